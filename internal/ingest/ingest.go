package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/mqtt"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// QoS levels for the inbound subscriptions. Readings are periodic and a
// lost one is replaced by the next; error reports are not.
const (
	MeasurementQoS byte = 0
	ErrorQoS       byte = 1
)

// DefaultHandleTimeout bounds the processing of one message.
const DefaultHandleTimeout = 30 * time.Second

// Logger defines the logging interface used by the handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Processor is the part of *plantcare.Processor the handler drives.
type Processor interface {
	HandleMeasurements(ctx context.Context, plantID string, ms []entity.Measurement) ([]plantcare.Decision, error)
	HandleError(ctx context.Context, plantID string, ev plantcare.ErrorEvent) error
}

// Subscriber registers topic handlers. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Handler turns controller messages into processor calls.
type Handler struct {
	processor Processor
	logger    Logger
	timeout   time.Duration

	// base is the serve context; cancelling it aborts in-flight handling.
	base context.Context
}

// NewHandler creates a handler feeding processor.
func NewHandler(processor Processor) *Handler {
	return &Handler{
		processor: processor,
		logger:    noopLogger{},
		timeout:   DefaultHandleTimeout,
		base:      context.Background(),
	}
}

// SetLogger sets the logger for dropped and processed messages.
func (h *Handler) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetTimeout overrides DefaultHandleTimeout.
func (h *Handler) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// Start subscribes to every plant's measurement and error topics. ctx
// becomes the parent of each message's processing context.
func (h *Handler) Start(ctx context.Context, sub Subscriber) error {
	h.base = ctx
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllMeasurements(), MeasurementQoS, h.HandleMeasurement); err != nil {
		return fmt.Errorf("subscribing to measurements: %w", err)
	}
	if err := sub.Subscribe(topics.AllErrors(), ErrorQoS, h.HandleErrorReport); err != nil {
		return fmt.Errorf("subscribing to errors: %w", err)
	}
	h.logger.Info("ingestion started", "measurements", topics.AllMeasurements(), "errors", topics.AllErrors())
	return nil
}

// HandleMeasurement processes a smartplant/{plant_id}/measurement message.
//
// Readings for unknown plants are dropped with a warning and no error, so a
// stray controller cannot fill the logs with handler failures.
func (h *Handler) HandleMeasurement(topic string, payload []byte) error {
	plantID, ok := mqtt.PlantID(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	ms, err := DecodeMeasurements(payload)
	if err != nil {
		h.logger.Warn("dropping measurement payload", "plant_id", plantID, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(h.base, h.timeout)
	defer cancel()

	decisions, err := h.processor.HandleMeasurements(ctx, plantID, ms)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.logger.Warn("measurement for unknown plant", "plant_id", plantID)
			return nil
		}
		return fmt.Errorf("processing measurements for %s: %w", plantID, err)
	}

	h.logger.Debug("measurements processed", "plant_id", plantID, "count", len(ms), "decisions", len(decisions))
	return nil
}

// HandleErrorReport processes a smartplant/{plant_id}/errors message.
func (h *Handler) HandleErrorReport(topic string, payload []byte) error {
	plantID, ok := mqtt.PlantID(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	ev, err := DecodeErrorEvent(payload)
	if err != nil {
		h.logger.Warn("dropping error payload", "plant_id", plantID, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(h.base, h.timeout)
	defer cancel()

	if err := h.processor.HandleError(ctx, plantID, ev); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.logger.Warn("error report for unknown plant", "plant_id", plantID, "code", ev.Code)
			return nil
		}
		return fmt.Errorf("processing error report for %s: %w", plantID, err)
	}
	return nil
}
