package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"codeberg.org/mutker/rfanctl/internal/actuator"
	"codeberg.org/mutker/rfanctl/internal/curve"
	"codeberg.org/mutker/rfanctl/internal/events"
	"codeberg.org/mutker/rfanctl/internal/logger"
	"codeberg.org/mutker/rfanctl/internal/protocol"
	"github.com/google/uuid"
)

const (
	// defaultReadTimeout bounds how long a session waits for the next report
	// before engaging the failsafe.
	defaultReadTimeout = 5 * time.Second

	// cleanupTimeout bounds the Closing phase. Failsafe retries stop
	// when it expires even if a write never succeeded.
	cleanupTimeout = 30 * time.Second

	maxLineLength = 64 * 1024
)

// session owns one accepted connection. It holds the only mutable
// per-connection state, the actuation history, so no locking is needed
// on it. The actuator set is shared with other sessions.
type session struct {
	id       string
	conn     net.Conn
	fans     *actuator.Set
	fanCurve *curve.Curve
	gate     curve.Gate
	history  curve.History
	recorder events.Recorder
	logger   logger.Logger

	readTimeout time.Duration
}

func newSession(conn net.Conn, fans *actuator.Set, fanCurve *curve.Curve, gate curve.Gate,
	recorder events.Recorder, log logger.Logger,
) *session {
	return &session{
		id:       uuid.NewString(),
		conn:     conn,
		fans:     fans,
		fanCurve: fanCurve,
		gate:     gate,
		history:  make(curve.History),
		recorder: recorder,
		logger:   log,

		readTimeout: defaultReadTimeout,
	}
}

// run drives the session until the client disconnects or ctx is
// cancelled. On cancellation the context error is returned after
// cleanup has completed.
func (s *session) run(ctx context.Context) error {
	s.logger.Debug().
		Str("session", s.id).
		Str("peer", s.conn.RemoteAddr().String()).
		Msg("New client connection")

	// A fresh connection takes manual control of every fan and starts
	// from empty history, so its first report always actuates.
	for _, id := range s.fans.IDs() {
		s.fans.SetMode(id, actuator.ModeManual)
	}
	s.record(ctx, &events.Event{Kind: events.KindSessionOpened, Detail: s.conn.RemoteAddr().String()})

	reader := bufio.NewReaderSize(s.conn, maxLineLength)

	for {
		select {
		case <-ctx.Done():
			s.close()
			return ctx.Err()
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.close()
			return nil
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.failsafe(ctx)
				continue
			}

			// End of stream or a broken connection ends the session.
			s.close()
			return nil
		}

		s.process(ctx, line)
	}
}

// process parses one report line and actuates the affected fans. A bad
// line is logged and dropped; it must never terminate the session.
func (s *session) process(ctx context.Context, line []byte) {
	report, err := protocol.Decode(line)
	if err != nil {
		s.logger.Error().Err(err).Str("session", s.id).Msg("Invalid message format")
		return
	}

	// Gate each reference sensor once, so several fans sharing a
	// reference see the same decision within one report.
	triggered := make(map[string]int)
	for _, fanID := range s.fans.IDs() {
		ref, ok := s.fans.Reference(fanID)
		if !ok {
			continue
		}
		if _, done := triggered[ref]; done {
			continue
		}

		temp, present := report.Temperatures[ref]
		if !present || temp == nil {
			continue
		}

		s.logger.Debug().
			Str("sensor", ref).
			Int("temp", *temp).
			Msg("Temperature received")

		if up, down, ok := s.gate.NextChange(ref, s.history); ok {
			s.logger.Debug().
				Str("sensor", ref).
				Int("next_change_up", up).
				Int("next_change_down", down).
				Msg("Hysteresis window")
		}

		if s.gate.ShouldActuate(ref, *temp, s.history) {
			triggered[ref] = *temp
		}
	}

	for _, fanID := range s.fans.IDs() {
		ref, ok := s.fans.Reference(fanID)
		if !ok {
			continue
		}
		temp, ok := triggered[ref]
		if !ok {
			continue
		}

		duty := s.fanCurve.Evaluate(temp)
		if err := s.fans.SetDuty(fanID, duty); err != nil {
			// The fan keeps its last commanded value for this cycle.
			continue
		}
		s.record(ctx, &events.Event{Kind: events.KindActuation, Fan: fanID, Sensor: ref, Value: duty})
		s.logger.Debug().
			Str("fan", fanID).
			Str("reference", ref).
			Int("pwm", duty).
			Msg("Updated fan speed")
	}

	for ref, temp := range triggered {
		s.history.Record(ref, temp)
	}
}

// failsafe drives every fan to the failsafe duty cycle. The session
// stays active; the next read may still deliver a report.
func (s *session) failsafe(ctx context.Context) {
	s.logger.Warn().Str("session", s.id).Msg("Client timeout - setting failsafe speeds")
	s.record(ctx, &events.Event{Kind: events.KindTimeout})

	for _, id := range s.fans.IDs() {
		if s.fans.SetFailsafe(id) == nil {
			s.record(ctx, &events.Event{Kind: events.KindFailsafe, Fan: id})
		}
	}
}

// close runs the Closing phase: automatic mode restored on every fan,
// failsafe reapplied with retry, connection closed. Cleanup gets its
// own deadline so it still runs when the session context is already
// cancelled.
func (s *session) close() {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	s.fans.Restore(cleanupCtx)

	s.conn.Close()
	s.record(cleanupCtx, &events.Event{Kind: events.KindSessionClosed})
	s.logger.Debug().Str("session", s.id).Msg("Session closed")
}

func (s *session) record(ctx context.Context, event *events.Event) {
	event.Timestamp = time.Now()
	event.SessionID = s.id

	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to record event")
	}
}
