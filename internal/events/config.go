package events

import "codeberg.org/mutker/rfanctl/internal/errors"

const (
	// File system permissions and defaults
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/rfanctl/events.db"

	defaultBatchSize    = 16
	defaultBatchTimeout = 30
)

type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout int
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Enabled:      false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if the event store is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	return nil
}
