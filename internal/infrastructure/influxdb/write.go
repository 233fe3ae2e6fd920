package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// Measurement names written by the recorder.
const (
	MeasurementReading = "plant_measurement"
	MeasurementAction  = "plant_action"
)

// RecordMeasurement writes one sensor reading, tagged by plant and reading
// type, at the reading's own timestamp.
//
//	plant_measurement,plant_id=p-1,type=humidity value=27.5 <ts>
func (c *Client) RecordMeasurement(plantID string, m entity.Measurement) {
	if !c.IsConnected() {
		return
	}

	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementReading,
		map[string]string{"plant_id": plantID, "type": m.Type},
		map[string]interface{}{"value": m.Value},
		at,
	))
}

// RecordAction writes an executed engine action. durationMs is zero for
// notifications.
//
//	plant_action,action=water,plant_id=p-1 duration_ms=20000i <ts>
func (c *Client) RecordAction(plantID string, action plantcare.Action, durationMs int64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementAction,
		map[string]string{"plant_id": plantID, "action": string(action)},
		map[string]interface{}{"duration_ms": durationMs},
		at,
	))
}

var _ plantcare.Recorder = (*Client)(nil)
