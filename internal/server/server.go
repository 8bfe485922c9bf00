// Package server accepts reporter connections and translates their
// temperature reports into fan actuation.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/rfanctl/internal/actuator"
	"codeberg.org/mutker/rfanctl/internal/curve"
	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/events"
	"codeberg.org/mutker/rfanctl/internal/logger"
)

// Server listens for reporter connections and runs one session per
// accepted connection. Sessions share the actuator set; everything else
// they own privately.
type Server struct {
	addr     string
	fans     *actuator.Set
	fanCurve *curve.Curve
	gate     curve.Gate
	recorder events.Recorder
	logger   logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

func New(host string, port int, fans *actuator.Set, fanCurve *curve.Curve, hysteresis int,
	recorder events.Recorder, log logger.Logger,
) *Server {
	return &Server{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		fans:     fans,
		fanCurve: fanCurve,
		gate:     curve.Gate{Hysteresis: hysteresis},
		recorder: recorder,
		logger:   log,
	}
}

// ListenAndServe blocks until ctx is cancelled. Each accepted
// connection is handled on its own goroutine; shutdown waits for every
// session to finish its cleanup.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errFactory := errors.New()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrListenFailed, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.addr).Msg("Server running")

	// Closing the listener unblocks Accept when ctx is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var (
		wg     sync.WaitGroup
		active atomic.Int32
	)
	for {
		conn, err := listener.Accept()
		if err != nil {
			// Sessions run their own Closing cleanup. When nobody was
			// connected, the fans are still in manual mode from setup
			// and must be handed back here.
			idle := active.Load() == 0
			wg.Wait()
			if idle {
				s.restoreIdle()
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return errFactory.Wrap(errors.ErrListenFailed, err)
		}

		wg.Add(1)
		active.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer active.Add(-1)
			sess := newSession(conn, s.fans, s.fanCurve, s.gate, s.recorder, s.logger)
			if err := sess.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("Session ended with error")
			}
		}(conn)
	}
}

// Addr returns the bound listen address, or nil before ListenAndServe
// has opened the listener. Intended for callers that bind port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *Server) restoreIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	s.fans.Restore(ctx)
}
