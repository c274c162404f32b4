package historian

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/edge-simulators/internal/model"
)

// DefaultMeasurement is used when no measurement is configured.
const DefaultMeasurement = "sensor_reading"

// BodyToPoints flattens a message body into one point per reading.
func BodyToPoints(measurement string, body model.MessageBody) []*write.Point {
	if measurement == "" {
		measurement = DefaultMeasurement
	}

	var points []*write.Point
	for _, ev := range body.Events {
		for _, r := range ev.Readings {
			tags := map[string]string{
				"device_id": ev.DeviceID,
				"asset":     body.Asset,
				"source":    body.Source,
				"reading":   r.Name,
				"units":     r.Reading.Units,
			}
			fields := map[string]interface{}{
				"value":  r.Reading.Value,
				"status": int64(r.Reading.Status),
			}
			if r.Reading.Misc != "" {
				fields["misc"] = r.Reading.Misc
			}
			points = append(points, influxdb2.NewPoint(measurement, tags, fields, ev.TimeStamp))
		}
	}
	return points
}
