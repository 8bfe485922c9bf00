package events

import (
	"context"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation used when the event store is disabled
type noopRecorder struct{}

func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Event store disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, cfg: cfg}, nil
}

func (s *service) Record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := s.repo.Record(event); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (*noopRecorder) Record(_ context.Context, _ *Event) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}
