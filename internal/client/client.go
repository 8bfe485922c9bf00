// Package client samples temperature sensors and reports them to the
// fan control server.
package client

import (
	"context"
	"net"
	"strconv"
	"time"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
	"codeberg.org/mutker/rfanctl/internal/protocol"
)

const (
	// maxBackoff caps the delay between connection attempts.
	maxBackoff = 30 * time.Second

	// reconnectPause is the brief pause after a mid-cycle connection
	// failure before dialing again.
	reconnectPause = time.Second

	writeTimeout = 5 * time.Second
)

// Reporter owns the outbound connection. It runs as a single task:
// sampling, sending and sleeping are sequential within a cycle.
type Reporter struct {
	addr            string
	fs              hwmon.FS
	sensors         []hwmon.SensorSpec
	interval        time.Duration
	totalReconnects int
	logger          logger.Logger

	dial    func(ctx context.Context, addr string) (net.Conn, error)
	backoff func(attempt int) time.Duration
}

func New(host string, port int, fs hwmon.FS, sensors []hwmon.SensorSpec,
	interval time.Duration, log logger.Logger,
) (*Reporter, error) {
	errFactory := errors.New()

	if len(sensors) == 0 {
		return nil, errFactory.New(errors.ErrNoSensors)
	}

	dialer := &net.Dialer{}

	return &Reporter{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		fs:       fs,
		sensors:  sensors,
		interval: interval,
		logger:   log,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", addr)
		},
		backoff:  Backoff,
	}, nil
}

// Run drives the report loop until ctx is cancelled. Connection
// failures of any kind lead back to connect; only cancellation ends
// the loop.
func (r *Reporter) Run(ctx context.Context) error {
	r.logger.Info().
		Int("sensors", len(r.sensors)).
		Str("server", r.addr).
		Msg("Monitoring temperature sensors")

	for {
		conn, err := r.connect(ctx)
		if err != nil {
			return err
		}

		if err := r.report(ctx, conn); err != nil {
			conn.Close()
			return err
		}

		// The connection broke mid-cycle. Pause briefly, then dial again.
		conn.Close()
		if err := sleep(ctx, reconnectPause); err != nil {
			return err
		}
	}
}

// connect dials the server until it succeeds, waiting min(30, attempt)
// seconds after the failed attempt number. Reconnections after the
// first attempt bump a counter, for observability only.
func (r *Reporter) connect(ctx context.Context) (net.Conn, error) {
	attempt := 0
	for {
		attempt++

		conn, err := r.dial(ctx, r.addr)
		if err == nil {
			if attempt > 1 {
				r.totalReconnects++
				r.logger.Info().
					Int("attempts", attempt).
					Int("total_reconnects", r.totalReconnects).
					Msg("Reconnected")
			}

			return conn, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == 1 {
			r.logger.Error().Err(err).Msg("Failed to connect")
		}

		if err := sleep(ctx, r.backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// report runs cycles on the given connection until it breaks (returns
// nil) or ctx is cancelled (returns the context error).
func (r *Reporter) report(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Shutting down...")
			return ctx.Err()
		default:
		}

		report := protocol.NewReport(r.readTemperatures(), time.Now())
		if report.HasReading() {
			line, err := protocol.Encode(report)
			if err != nil {
				r.logger.Error().Err(err).Msg("Failed to encode report")
			} else if err := r.send(conn, line); err != nil {
				r.logger.Error().Err(err).Msg("Connection lost")
				return nil
			}
		}

		if err := sleep(ctx, r.interval); err != nil {
			r.logger.Info().Msg("Shutting down...")
			return err
		}
	}
}

func (r *Reporter) send(conn net.Conn, line []byte) error {
	errFactory := errors.New()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errFactory.Wrap(errors.ErrWriteFailed, err)
	}
	if _, err := conn.Write(line); err != nil {
		return errFactory.Wrap(errors.ErrWriteFailed, err)
	}

	return nil
}

// readTemperatures samples every configured sensor. A sensor that fails
// to read reports nil for this cycle and stays configured; the next
// cycle tries again.
func (r *Reporter) readTemperatures() map[string]*int {
	temperatures := make(map[string]*int, len(r.sensors))

	for _, sensor := range r.sensors {
		value, err := r.fs.ReadInt(sensor.Path)
		if err != nil {
			temperatures[sensor.ID] = nil
			r.logger.Error().Err(err).Str("sensor", sensor.ID).Msg("Failed to read temperature")
			continue
		}

		temp := value
		temperatures[sensor.ID] = &temp
		r.logger.Debug().Str("sensor", sensor.ID).Int("temp", temp).Msg("Read temperature")
	}

	return temperatures
}

// TotalReconnects returns how often the reporter had to re-establish
// the connection.
func (r *Reporter) TotalReconnects() int {
	return r.totalReconnects
}

// Backoff returns the delay after the given failed attempt number.
func Backoff(attempt int) time.Duration {
	delay := time.Duration(attempt) * time.Second
	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
