// Package protocol defines the wire format between temperature
// reporters and the fan control server: newline-delimited UTF-8 JSON
// records, client to server only.
package protocol

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/rfanctl/internal/errors"
)

// Report is one temperature sample batch. Temperatures maps sensor
// identifiers to readings in milli-degrees; nil means the sensor
// produced no reading this cycle. Timestamp is seconds since the
// reporter's epoch.
type Report struct {
	Temperatures map[string]*int `json:"temperatures"`
	Timestamp    float64         `json:"timestamp"`
}

// NewReport builds a report stamped with the given time.
func NewReport(temperatures map[string]*int, now time.Time) Report {
	return Report{
		Temperatures: temperatures,
		Timestamp:    float64(now.UnixNano()) / float64(time.Second),
	}
}

// Encode serializes the report as a single newline-terminated line.
func Encode(r Report) ([]byte, error) {
	errFactory := errors.New()

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrMalformedReport, err)
	}

	return append(payload, '\n'), nil
}

// Decode parses one line into a report. A syntactically valid record
// without a temperatures object is rejected; a session must be able to
// drop such a line and keep running.
func Decode(line []byte) (Report, error) {
	errFactory := errors.New()

	var raw struct {
		Temperatures *map[string]*int `json:"temperatures"`
		Timestamp    float64          `json:"timestamp"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Report{}, errFactory.Wrap(errors.ErrMalformedReport, err)
	}
	if raw.Temperatures == nil {
		return Report{}, errFactory.WithMessage(errors.ErrMissingField, "report has no temperatures")
	}

	return Report{Temperatures: *raw.Temperatures, Timestamp: raw.Timestamp}, nil
}

// HasReading reports whether at least one sensor produced a value.
func (r Report) HasReading() bool {
	for _, temp := range r.Temperatures {
		if temp != nil {
			return true
		}
	}

	return false
}
