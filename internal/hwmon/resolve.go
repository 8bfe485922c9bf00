package hwmon

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"codeberg.org/mutker/rfanctl/internal/logger"
)

const (
	defaultPwmFile  = "pwm1"
	defaultModeFile = "pwm1_enable"
)

// FanConfig is the raw per-fan configuration. A fan is addressed either
// by a hwmon device name pattern plus attribute file names, or by direct
// attribute paths. Reference names the sensor whose readings drive this
// fan; empty means the fan's own id.
type FanConfig struct {
	HwmonName string `mapstructure:"hwmon_name" json:"hwmon_name,omitempty"`
	PwmFile   string `mapstructure:"pwm_file" json:"pwm_file,omitempty"`
	ModeFile  string `mapstructure:"mode_file" json:"mode_file,omitempty"`
	PwmPath   string `mapstructure:"pwm_path" json:"pwm_path,omitempty"`
	ModePath  string `mapstructure:"mode_path" json:"mode_path,omitempty"`
	Reference string `mapstructure:"reference_gpu" json:"reference_gpu,omitempty"`
}

// FanSpec is a fully resolved fan: both attribute paths exist at
// resolution time. Immutable for the process lifetime.
type FanSpec struct {
	ID        string
	PwmPath   string
	ModePath  string
	Reference string
}

// FanStrategy attempts to resolve a fan config into a spec. It returns
// the spec and true on a match, or false when this strategy does not
// apply to the given config.
type FanStrategy func(fs FS, id string, cfg FanConfig) (FanSpec, bool)

// FanStrategies is the fixed resolution priority order: hwmon name
// lookup first, then direct paths.
func FanStrategies() []FanStrategy {
	return []FanStrategy{resolveByHwmonName, resolveByDirectPath}
}

// ResolveFan tries each strategy in order and returns the first match.
func ResolveFan(fs FS, id string, cfg FanConfig, log logger.Logger) (FanSpec, bool) {
	for _, strategy := range FanStrategies() {
		if spec, ok := strategy(fs, id, cfg); ok {
			if cfg.Reference != "" {
				spec.Reference = cfg.Reference
			} else {
				spec.Reference = id
			}

			return spec, true
		}
	}

	log.Error().
		Str("fan", id).
		Msg("Fan configuration must specify either hwmon_name or pwm_path/mode_path")

	return FanSpec{}, false
}

func resolveByHwmonName(fs FS, id string, cfg FanConfig) (FanSpec, bool) {
	if cfg.HwmonName == "" {
		return FanSpec{}, false
	}

	device, ok := FindHwmonByName(fs, cfg.HwmonName)
	if !ok {
		return FanSpec{}, false
	}

	pwmFile := cfg.PwmFile
	if pwmFile == "" {
		pwmFile = defaultPwmFile
	}
	modeFile := cfg.ModeFile
	if modeFile == "" {
		modeFile = defaultModeFile
	}

	spec := FanSpec{
		ID:       id,
		PwmPath:  path.Join(device, pwmFile),
		ModePath: path.Join(device, modeFile),
	}
	if !fs.Exists(spec.PwmPath) || !fs.Exists(spec.ModePath) {
		return FanSpec{}, false
	}

	return spec, true
}

func resolveByDirectPath(fs FS, id string, cfg FanConfig) (FanSpec, bool) {
	if cfg.PwmPath == "" || cfg.ModePath == "" {
		return FanSpec{}, false
	}

	if !fs.Exists(cfg.PwmPath) || !fs.Exists(cfg.ModePath) {
		return FanSpec{}, false
	}

	return FanSpec{
		ID:       id,
		PwmPath:  cfg.PwmPath,
		ModePath: cfg.ModePath,
	}, true
}

// FindHwmonByName returns the hwmon device directory whose name
// attribute matches the given pattern. Unanchored patterns match as
// substrings, case-insensitively.
func FindHwmonByName(fs FS, pattern string) (string, bool) {
	if !strings.HasPrefix(pattern, "^") && !strings.HasSuffix(pattern, "$") {
		pattern = ".*" + pattern + ".*"
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return "", false
	}

	for _, device := range fs.Glob(SysfsRoot + "/hwmon*") {
		name, err := fs.ReadString(path.Join(device, "name"))
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return device, true
		}
	}

	return "", false
}

// AutoDetectFans enumerates pwmN attributes with a matching pwmN_enable
// next to them, assigning sequential gpuN identifiers. Used only when no
// fan is configured at all.
func AutoDetectFans(fs FS, log logger.Logger) []FanSpec {
	var specs []FanSpec

	for _, pwmPath := range fs.Glob(SysfsRoot + "/hwmon*/pwm?") {
		modePath := pwmPath + "_enable"
		if !fs.Exists(modePath) {
			continue
		}

		id := fmt.Sprintf("gpu%d", len(specs))
		specs = append(specs, FanSpec{
			ID:        id,
			PwmPath:   pwmPath,
			ModePath:  modePath,
			Reference: id,
		})
		log.Info().Str("fan", id).Str("pwm", pwmPath).Msg("Auto-detected fan")
	}

	return specs
}

// SensorSpec binds a sensor identifier to a readable temperature
// attribute in milli-degrees.
type SensorSpec struct {
	ID   string
	Path string
}

// ResolveSensors filters configured sensors down to those whose
// attribute exists, logging and skipping the rest.
func ResolveSensors(fs FS, configured map[string]string, log logger.Logger) []SensorSpec {
	var specs []SensorSpec

	for id, tempPath := range configured {
		if !fs.Exists(tempPath) {
			log.Error().Str("sensor", id).Str("path", tempPath).Msg("Temperature sensor not found")
			continue
		}
		specs = append(specs, SensorSpec{ID: id, Path: tempPath})
		log.Info().Str("sensor", id).Str("path", tempPath).Msg("Using temperature sensor")
	}

	return specs
}

// AutoDetectSensors enumerates temp1_input attributes across hwmon
// devices, assigning sequential gpuN identifiers.
func AutoDetectSensors(fs FS, log logger.Logger) []SensorSpec {
	var specs []SensorSpec

	for _, tempPath := range fs.Glob(SysfsRoot + "/hwmon*/temp1_input") {
		id := fmt.Sprintf("gpu%d", len(specs))
		specs = append(specs, SensorSpec{ID: id, Path: tempPath})
		log.Info().Str("sensor", id).Str("path", tempPath).Msg("Auto-detected temperature sensor")
	}

	return specs
}
