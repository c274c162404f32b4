package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Desired/reported property keys.
const (
	PropSendInterval = "SendInterval"
	PropSendData     = "SendData"
	PropEventCount   = "EventCount"
)

// MaxEventCount bounds EventCount. A pump event encodes to roughly 400
// bytes, so larger batches could never fit a 256 KiB message anyway.
const MaxEventCount = 1000

// IntervalUnit is the unit SendInterval is expressed in on the desired side.
type IntervalUnit int

const (
	IntervalSeconds IntervalUnit = iota
	IntervalMilliseconds
)

func (u IntervalUnit) scale() float64 {
	if u == IntervalMilliseconds {
		return float64(time.Millisecond)
	}
	return float64(time.Second)
}

// Duration converts v to a duration. It fails when v is not positive or
// does not fit a time.Duration once converted.
func (u IntervalUnit) Duration(v float64) (time.Duration, error) {
	ns := v * u.scale()
	switch {
	case v <= 0:
		return 0, fmt.Errorf("must be positive, got %v", v)
	case ns >= math.MaxInt64:
		return 0, fmt.Errorf("%v is too large", v)
	case ns < 1:
		return 0, fmt.Errorf("%v is below one nanosecond", v)
	}
	return time.Duration(ns), nil
}

// DesiredUpdate holds the recognized keys of a desired-properties document.
// Nil fields were absent.
type DesiredUpdate struct {
	SendInterval *time.Duration
	SendData     *bool
	EventCount   *int
}

// Empty reports whether no recognized key was present.
func (d DesiredUpdate) Empty() bool {
	return d.SendInterval == nil && d.SendData == nil && d.EventCount == nil
}

// KeyError describes a desired key that was present but unusable.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string { return fmt.Sprintf("desired %s: %v", e.Key, e.Err) }
func (e *KeyError) Unwrap() error { return e.Err }

// ParseDesired extracts the recognized keys from a desired-properties
// document. Keys are decoded independently: a malformed key is reported in
// keyErrs and the remaining keys still apply. Unknown keys are ignored.
// withEventCount enables the EventCount key.
func ParseDesired(doc []byte, unit IntervalUnit, withEventCount bool) (DesiredUpdate, []error, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		return DesiredUpdate{}, nil, fmt.Errorf("decode desired properties: %w", err)
	}

	var (
		upd     DesiredUpdate
		keyErrs []error
	)

	if v, ok := raw[PropSendInterval]; ok {
		n, err := decodeNumber(v)
		var d time.Duration
		if err == nil {
			d, err = unit.Duration(n)
		}
		if err != nil {
			keyErrs = append(keyErrs, &KeyError{Key: PropSendInterval, Err: err})
		} else {
			upd.SendInterval = &d
		}
	}

	if v, ok := raw[PropSendData]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			keyErrs = append(keyErrs, &KeyError{Key: PropSendData, Err: err})
		} else {
			upd.SendData = &b
		}
	}

	if v, ok := raw[PropEventCount]; ok && withEventCount {
		n, err := decodeNumber(v)
		switch {
		case err != nil:
			keyErrs = append(keyErrs, &KeyError{Key: PropEventCount, Err: err})
		case math.Round(n) < 1:
			keyErrs = append(keyErrs, &KeyError{Key: PropEventCount, Err: fmt.Errorf("must be at least 1, got %v", n)})
		case math.Round(n) > MaxEventCount:
			keyErrs = append(keyErrs, &KeyError{Key: PropEventCount, Err: fmt.Errorf("must be at most %d, got %v", MaxEventCount, n)})
		default:
			c := int(math.Round(n))
			upd.EventCount = &c
		}
	}

	return upd, keyErrs, nil
}

func decodeNumber(v json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return n, nil
}

// ReportedProperties is the reported-state document. SendInterval is always
// expressed in seconds.
type ReportedProperties struct {
	SendData     bool    `json:"SendData"`
	SendInterval float64 `json:"SendInterval"`
	EventCount   *int    `json:"EventCount,omitempty"`
}
