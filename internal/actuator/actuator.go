package actuator

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/rfanctl/internal/curve"
	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
)

// Mode is a fan control mode as written to the pwm enable attribute.
type Mode int

const (
	ModeManual    Mode = 1
	ModeAutomatic Mode = 2

	retryDelay = time.Second
)

// Set is the registry of controllable fans. Sessions share one Set;
// individual operations are independently failable and never abort work
// on sibling fans.
type Set struct {
	fs          hwmon.FS
	fans        map[string]hwmon.FanSpec
	failsafePct int
	initialPct  int
	mu          sync.RWMutex
	logger      logger.Logger
}

// Build resolves the configured fans into a working Set. Specs whose
// attributes do not exist are logged and skipped; when nothing at all is
// configured the sysfs tree is scanned for pwm/pwm_enable pairs. An
// empty result fails construction, since a server with no fans to drive
// cannot do its job. Each registered fan is put into manual mode and
// given the initial duty cycle.
func Build(fs hwmon.FS, configured map[string]hwmon.FanConfig, failsafePct, initialPct int, log logger.Logger) (*Set, error) {
	errFactory := errors.New()

	fans := make(map[string]hwmon.FanSpec)
	for id, cfg := range configured {
		spec, ok := hwmon.ResolveFan(fs, id, cfg, log)
		if !ok {
			continue
		}
		fans[id] = spec
		log.Info().
			Str("fan", id).
			Str("pwm", spec.PwmPath).
			Str("reference", spec.Reference).
			Msg("Configured fan")
	}

	if len(fans) == 0 {
		for _, spec := range hwmon.AutoDetectFans(fs, log) {
			fans[spec.ID] = spec
		}
	}

	if len(fans) == 0 {
		return nil, errFactory.New(errors.ErrNoActuators)
	}

	s := &Set{
		fs:          fs,
		fans:        fans,
		failsafePct: failsafePct,
		initialPct:  initialPct,
		logger:      log,
	}

	for _, id := range s.IDs() {
		s.SetMode(id, ModeManual)
		s.SetInitial(id)
	}

	return s, nil
}

// IDs returns the fan identifiers in stable order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.fans))
	for id := range s.fans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Reference returns the reference sensor id driving the given fan.
func (s *Set) Reference(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.fans[id]

	return spec.Reference, ok
}

// SetMode switches the fan between manual and automatic control.
// Failure is logged and reported, never escalated past the caller.
func (s *Set) SetMode(id string, mode Mode) error {
	spec, ok := s.spec(id)
	if !ok {
		return s.unknownFan(id)
	}

	if err := s.fs.WriteInt(spec.ModePath, int(mode)); err != nil {
		s.logger.Error().Err(err).Str("fan", id).Msg("Failed to set fan mode")
		return err
	}
	s.logger.Debug().Str("fan", id).Int("mode", int(mode)).Msg("Set fan mode")

	return nil
}

// SetDuty writes a PWM duty cycle to the fan.
func (s *Set) SetDuty(id string, value int) error {
	errFactory := errors.New()

	spec, ok := s.spec(id)
	if !ok {
		return s.unknownFan(id)
	}
	if value < curve.MinDuty || value > curve.MaxDuty {
		return errFactory.WithData(errors.ErrInvalidArgument, struct{ Duty int }{value})
	}

	if err := s.fs.WriteInt(spec.PwmPath, value); err != nil {
		s.logger.Error().Err(err).Str("fan", id).Msg("Failed to set PWM")
		return err
	}
	s.logger.Debug().Str("fan", id).Int("pwm", value).Msg("Set PWM")

	return nil
}

// GetDuty reads back the current PWM duty cycle of the fan.
func (s *Set) GetDuty(id string) (int, error) {
	spec, ok := s.spec(id)
	if !ok {
		return 0, s.unknownFan(id)
	}

	return s.fs.ReadInt(spec.PwmPath)
}

// SetFailsafe drives the fan to the configured failsafe duty cycle.
// Used when no valid temperature data is arriving.
func (s *Set) SetFailsafe(id string) error {
	spec, ok := s.spec(id)
	if !ok {
		return s.unknownFan(id)
	}

	duty := PercentToDuty(s.failsafePct)
	if err := s.fs.WriteInt(spec.PwmPath, duty); err != nil {
		s.logger.Error().Err(err).Str("fan", id).Msg("Failed to set failsafe speed")
		return err
	}
	s.logger.Warn().Str("fan", id).Int("percent", s.failsafePct).Msg("Set to failsafe speed")

	return nil
}

// SetFailsafeWithRetry keeps writing the failsafe duty cycle until the
// write succeeds or the context is cancelled. Used only during final
// shutdown, where leaving the fan at an arbitrary value is not an
// option.
func (s *Set) SetFailsafeWithRetry(ctx context.Context, id string) error {
	for {
		if err := s.SetFailsafe(id); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// SetInitial drives the fan to the configured initial duty cycle,
// applied once at registration before any client connects.
func (s *Set) SetInitial(id string) error {
	spec, ok := s.spec(id)
	if !ok {
		return s.unknownFan(id)
	}

	duty := PercentToDuty(s.initialPct)
	if err := s.fs.WriteInt(spec.PwmPath, duty); err != nil {
		s.logger.Error().Err(err).Str("fan", id).Msg("Failed to set initial speed")
		return err
	}
	s.logger.Info().Str("fan", id).Int("percent", s.initialPct).Msg("Set to initial speed")

	return nil
}

// Restore hands every fan back to automatic control and reapplies the
// failsafe duty with retry, one goroutine per fan. It returns when all
// fans are done or ctx expires.
func (s *Set) Restore(ctx context.Context) {
	for _, id := range s.IDs() {
		s.SetMode(id, ModeAutomatic)
	}

	var wg sync.WaitGroup
	for _, id := range s.IDs() {
		wg.Add(1)
		go func(fanID string) {
			defer wg.Done()
			s.SetFailsafeWithRetry(ctx, fanID)
		}(id)
	}
	wg.Wait()
}

// PercentToDuty converts a 0..100 percentage to the nearest PWM value.
func PercentToDuty(percent int) int {
	return (percent*curve.MaxDuty + 50) / 100
}

func (s *Set) spec(id string) (hwmon.FanSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.fans[id]

	return spec, ok
}

func (s *Set) unknownFan(id string) error {
	err := errors.New().WithData(errors.ErrInvalidArgument, struct{ Fan string }{id})
	s.logger.Error().Str("fan", id).Msg("Unknown fan")

	return err
}
