package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementProperty     = "zigbee_property"
	MeasurementAvailability = "zigbee_availability"
	MeasurementLinkQuality  = "zigbee_link_quality"
)

// WritePropertyValue records a confirmed property value.
//
// Only numeric and boolean values are stored; booleans are written as 0/1 so
// they can be graphed alongside numbers. Other types are ignored.
func (c *Client) WritePropertyValue(deviceID, property string, value any) {
	if !c.IsConnected() {
		return
	}

	v, ok := numericValue(value)
	if !ok {
		return
	}

	measurement := MeasurementProperty
	if property == "linkquality" || property == "link_quality" {
		measurement = MeasurementLinkQuality
	}

	c.writer.WritePoint(write.NewPoint(
		measurement,
		map[string]string{
			"device_id": deviceID,
			"property":  property,
		},
		map[string]any{"value": v},
		c.now(),
	))
}

// WriteAvailability records an availability transition.
func (c *Client) WriteAvailability(deviceID string, online bool) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementAvailability,
		map[string]string{"device_id": deviceID},
		map[string]any{"online": online},
		c.now(),
	))
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint8:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
