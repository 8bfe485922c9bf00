package hwmon

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/rfanctl/internal/errors"
	"github.com/spf13/afero"
)

const (
	// SysfsRoot is where the kernel exposes hardware monitoring devices.
	SysfsRoot = "/sys/class/hwmon"

	attrFilePerm = 0o644
)

// FS reads and writes integer hardware attributes. An attribute is a
// file holding a single decimal value as UTF-8 text, the contract sysfs
// hwmon uses for temperatures, PWM values and PWM enable modes.
type FS struct {
	fs afero.Fs
}

// New returns an FS backed by the host filesystem.
func New() FS {
	return FS{fs: afero.NewOsFs()}
}

// NewWithFs returns an FS backed by the given filesystem.
func NewWithFs(fs afero.Fs) FS {
	return FS{fs: fs}
}

// ReadInt reads a decimal integer attribute.
func (f FS) ReadInt(path string) (int, error) {
	errFactory := errors.New()

	raw, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrAttributeRead, err)
	}

	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrAttributeRead, err)
	}

	return value, nil
}

// WriteInt writes a decimal integer attribute.
func (f FS) WriteInt(path string, value int) error {
	errFactory := errors.New()

	if err := afero.WriteFile(f.fs, path, []byte(strconv.Itoa(value)), attrFilePerm); err != nil {
		return errFactory.Wrap(errors.ErrAttributeWrite, err)
	}

	return nil
}

// ReadString reads a trimmed text attribute, such as a hwmon device name.
func (f FS) ReadString(path string) (string, error) {
	errFactory := errors.New()

	raw, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return "", errFactory.Wrap(errors.ErrAttributeRead, err)
	}

	return strings.TrimSpace(string(raw)), nil
}

// Exists reports whether the attribute path is present.
func (f FS) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, path)

	return err == nil && ok
}

// Glob expands a filesystem pattern.
func (f FS) Glob(pattern string) []string {
	matches, err := afero.Glob(f.fs, pattern)
	if err != nil {
		return nil
	}

	return matches
}
