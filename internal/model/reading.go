package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SensorReading is a single measured quantity.
type SensorReading struct {
	Value  float64 `json:"value"`
	Units  string  `json:"units"`
	Status int     `json:"status"`
	Misc   string  `json:"misc,omitempty"`
}

// NamedReading binds a reading to the JSON key it is published under.
type NamedReading struct {
	Name    string
	Reading SensorReading
}

// MessageEvent is one device sample: identity, time and its readings.
// Readings are flattened into the event object in order, next to
// deviceId and timeStamp.
type MessageEvent struct {
	DeviceID  string
	TimeStamp time.Time
	Readings  []NamedReading
}

// Reading returns the reading published under name.
func (e MessageEvent) Reading(name string) (SensorReading, bool) {
	for _, r := range e.Readings {
		if r.Name == name {
			return r.Reading, true
		}
	}
	return SensorReading{}, false
}

func (e MessageEvent) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(key string, v any) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}

	if err := writeField("deviceId", e.DeviceID); err != nil {
		return nil, err
	}
	if err := writeField("timeStamp", e.TimeStamp.UTC()); err != nil {
		return nil, err
	}
	for _, r := range e.Readings {
		if r.Name == "deviceId" || r.Name == "timeStamp" {
			return nil, fmt.Errorf("reading name %q collides with event field", r.Name)
		}
		if err := writeField(r.Name, r.Reading); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores an event. Reading order follows the JSON document.
func (e *MessageEvent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("message event: expected object, got %v", tok)
	}

	var out MessageEvent
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		switch key {
		case "deviceId":
			if err := dec.Decode(&out.DeviceID); err != nil {
				return fmt.Errorf("deviceId: %w", err)
			}
		case "timeStamp":
			if err := dec.Decode(&out.TimeStamp); err != nil {
				return fmt.Errorf("timeStamp: %w", err)
			}
		default:
			var r SensorReading
			if err := dec.Decode(&r); err != nil {
				return fmt.Errorf("reading %s: %w", key, err)
			}
			out.Readings = append(out.Readings, NamedReading{Name: key, Reading: r})
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*e = out
	return nil
}

// MessageBody is the telemetry payload sent once per tick.
type MessageBody struct {
	Asset  string         `json:"asset"`
	Source string         `json:"source"`
	Events []MessageEvent `json:"events"`
}
