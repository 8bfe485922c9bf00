package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Role selects which config file and defaults apply.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"

	configDirPerm = 0o755
	configPerm    = 0o644

	defaultPort          = 7777
	defaultServerHost    = "0.0.0.0"
	defaultSleepInterval = 1.0
	defaultHysteresis    = 6000
	defaultFailsafePct   = 80
	defaultInitialPct    = 0
)

// Config is the process-wide configuration. Loaded once at startup and
// treated as read-only by everything downstream.
type Config struct {
	Temps              []int                      `mapstructure:"temps"`
	Pwms               []int                      `mapstructure:"pwms"`
	Hysteresis         int                        `mapstructure:"hysteresis"`
	SleepInterval      float64                    `mapstructure:"sleep_interval"`
	Port               int                        `mapstructure:"port"`
	Host               string                     `mapstructure:"host"`
	FailsafeFanPercent int                        `mapstructure:"failsafe_fan_percent"`
	InitialFanPercent  int                        `mapstructure:"initial_fan_percent"`
	Fans               map[string]hwmon.FanConfig `mapstructure:"fans"`
	Sensors            map[string]string          `mapstructure:"sensors"`
	EventsDB           string                     `mapstructure:"events_db"`
	Debug              bool                       `mapstructure:"debug"`
}

func defaults(role Role) map[string]any {
	common := map[string]any{
		"sleep_interval": defaultSleepInterval,
		"port":           defaultPort,
		"debug":          false,
	}

	if role == RoleServer {
		common["temps"] = []int{35000, 55000, 80000, 90000}
		common["pwms"] = []int{0, 100, 153, 255}
		common["hysteresis"] = defaultHysteresis
		common["host"] = defaultServerHost
		common["failsafe_fan_percent"] = defaultFailsafePct
		common["initial_fan_percent"] = defaultInitialPct
	} else {
		common["host"] = "" // operator must point the client somewhere
	}

	return common
}

// SearchPaths returns the candidate config file locations in priority
// order: system-wide, per-user, working directory.
func SearchPaths(role Role) []string {
	name := "rfanctl-" + string(role) + ".json"
	paths := []string{filepath.Join("/etc/rfanctl", name)}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config/rfanctl", name))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, name))
	}

	return paths
}

// Load reads configuration for the given role, merging in priority
// order: built-in defaults, then the first config file found, then
// command-line flags. A missing config file is not an error; the
// defaults are written out so the operator has a file to edit.
func Load(role Role, args []string) (*Config, error) {
	errFactory := errors.New()

	flags := pflag.NewFlagSet("rfanctl-"+string(role), pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	flags.String("host", "", "Server host address")
	flags.Int("port", 0, "Server port")
	flags.Float64("interval", 0, "Polling interval in seconds")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Int("failsafe-speed", -1, "Failsafe fan speed percentage (0-100)")
	flags.Int("initial-speed", -1, "Initial fan speed percentage (0-100)")
	flags.String("events-db", "", "Path to the operational event database")

	var fanConfigs, hwmonConfigs, sensorPaths []string
	var pwmPath, modePath string
	if role == RoleServer {
		flags.StringArrayVar(&fanConfigs, "fan-config", nil,
			"Fan configuration as ID,PWM_PATH,MODE_PATH (repeatable)")
		flags.StringArrayVar(&hwmonConfigs, "hwmon-config", nil,
			"Fan configuration as ID,HWMON_NAME,PWM_FILE,MODE_FILE (repeatable)")
		flags.StringVar(&pwmPath, "pwm-path", "", "Legacy: path to PWM control file")
		flags.StringVar(&modePath, "mode-path", "", "Legacy: path to PWM mode control file")
	} else {
		flags.StringSliceVar(&sensorPaths, "gpu-paths", nil,
			"Temperature input paths to monitor")
	}

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	v := viper.New()
	v.SetConfigType("json")
	for key, value := range defaults(role) {
		v.SetDefault(key, value)
	}

	if path := resolveConfigFile(*configPath, role); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		bootstrapDefaults(role)
	}

	// Flags set on the command line win over the config file.
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "interval":
			v.Set("sleep_interval", f.Value.String())
		case "failsafe-speed":
			v.Set("failsafe_fan_percent", f.Value.String())
		case "initial-speed":
			v.Set("initial_fan_percent", f.Value.String())
		case "events-db":
			v.Set("events_db", f.Value.String())
		case "host", "port", "debug":
			v.Set(f.Name, f.Value.String())
		}
	})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	applyFanFlags(cfg, fanConfigs, hwmonConfigs, pwmPath, modePath)
	applySensorFlags(cfg, sensorPaths)

	if err := cfg.validate(role); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveConfigFile returns the explicit path when given, otherwise the
// first existing candidate from the search paths, otherwise empty.
func resolveConfigFile(explicit string, role Role) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("RFANCTL_CONFIG"); env != "" {
		return env
	}

	for _, candidate := range SearchPaths(role) {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return ""
}

// bootstrapDefaults writes the default configuration to the first
// writable search path. Best effort only; running without a config file
// is perfectly fine.
func bootstrapDefaults(role Role) {
	payload, err := json.MarshalIndent(defaults(role), "", "    ")
	if err != nil {
		return
	}

	for _, candidate := range SearchPaths(role) {
		if err := os.MkdirAll(filepath.Dir(candidate), configDirPerm); err != nil {
			continue
		}
		if err := os.WriteFile(candidate, payload, configPerm); err != nil {
			continue
		}

		return
	}
}

func applyFanFlags(cfg *Config, fanConfigs, hwmonConfigs []string, pwmPath, modePath string) {
	addFan := func(id string, fan hwmon.FanConfig) {
		if cfg.Fans == nil {
			cfg.Fans = make(map[string]hwmon.FanConfig)
		}
		cfg.Fans[id] = fan
	}

	for _, raw := range hwmonConfigs {
		if id, parts, ok := splitFlagTuple(raw, 4); ok {
			addFan(id, hwmon.FanConfig{
				HwmonName: parts[0],
				PwmFile:   parts[1],
				ModeFile:  parts[2],
			})
		}
	}

	for _, raw := range fanConfigs {
		if id, parts, ok := splitFlagTuple(raw, 3); ok {
			addFan(id, hwmon.FanConfig{PwmPath: parts[0], ModePath: parts[1]})
		}
	}

	// Legacy single-fan form.
	if len(cfg.Fans) == 0 && pwmPath != "" && modePath != "" {
		addFan("gpu0", hwmon.FanConfig{PwmPath: pwmPath, ModePath: modePath})
	}
}

func applySensorFlags(cfg *Config, sensorPaths []string) {
	if len(sensorPaths) == 0 {
		return
	}

	// Command-line sensor paths replace any configured mapping.
	cfg.Sensors = make(map[string]string, len(sensorPaths))
	for i, path := range sensorPaths {
		cfg.Sensors[autoSensorID(i)] = path
	}
}

// splitFlagTuple parses "ID,a,b,..." flag values with a fixed arity
// (the id plus arity-1 fields).
func splitFlagTuple(raw string, arity int) (id string, rest []string, ok bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != arity {
		return "", nil, false
	}

	return parts[0], parts[1:], true
}

func autoSensorID(index int) string {
	return "gpu" + strconv.Itoa(index)
}

func (c *Config) validate(role Role) error {
	errFactory := errors.New()

	if c.SleepInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "sleep_interval must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ Port int }{c.Port})
	}
	if c.FailsafeFanPercent < 0 || c.FailsafeFanPercent > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"Failsafe fan percentage must be between 0 and 100")
	}
	if c.InitialFanPercent < 0 || c.InitialFanPercent > 100 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"Initial fan percentage must be between 0 and 100")
	}

	if role == RoleServer {
		if len(c.Temps) != len(c.Pwms) {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				"Temperature and PWM arrays must have the same length")
		}
		if len(c.Temps) == 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "fan curve must not be empty")
		}
	}

	return nil
}
