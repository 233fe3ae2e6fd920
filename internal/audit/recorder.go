package audit

import (
	"context"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// writeTimeout bounds one insert from the recorder.
const writeTimeout = 5 * time.Second

// Logger is the logging interface used by Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes the processor's actions to a Repository. Readings are
// already kept on the plant document and are ignored.
type Recorder struct {
	repo   Repository
	logger Logger
}

var _ plantcare.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder over repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger used for failed writes.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// RecordMeasurement is a no-op.
func (r *Recorder) RecordMeasurement(string, entity.Measurement) {}

// RecordAction stores the action. Failures are logged, never returned:
// the action has already happened.
func (r *Recorder) RecordAction(plantID string, action plantcare.Action, durationMs int64, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	e := &Entry{PlantID: plantID, Action: string(action), DurationMs: durationMs, CreatedAt: at}
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("recording action failed", "plant_id", plantID, "action", action, "error", err)
	}
}
