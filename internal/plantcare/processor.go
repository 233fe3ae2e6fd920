package plantcare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/forecast"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// Defaults applied by NewProcessor when Options leave them unset.
const (
	DefaultForecastTimeout     = 5 * time.Second
	DefaultManualWaterDuration = 10000
)

// Event channels broadcast by the processor.
const (
	ChannelAction      = "plant.action"
	ChannelMeasurement = "plant.measurement"
	ChannelError       = "plant.error"
)

// Notification kinds passed to Notifier.Notify.
const (
	NotifyHumidity = "humidity"
	NotifyLight    = "light"
	NotifyError    = "error"
)

// Firmware command names.
const (
	CommandWater   = "water"
	CommandSendNow = "send_now"
	CommandCalDry  = "calDry"
	CommandCalWet  = "calWet"
)

// Humidity sensor calibration points accepted by Calibrate.
const (
	CalibrationDry = "dry"
	CalibrationWet = "wet"
)

// Manual calibration actions. The engine never decides these.
const (
	ActionCalibrateDry Action = "calibrate_dry"
	ActionCalibrateWet Action = "calibrate_wet"
)

// Command is sent to a plant's controller.
type Command struct {
	Name     string `json:"cmd"`
	Duration int64  `json:"duration,omitempty"`
}

// ErrorEvent is an error report from a plant's controller.
type ErrorEvent struct {
	Level     string    `json:"level"`
	Code      string    `json:"code"`
	Delta     float64   `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCodePump marks a watering pulse that did not raise humidity.
const ErrorCodePump = "pump"

// Logger defines the logging interface used by the processor.
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

// TwinResolver finds the twin of a plant and its services.
// *twin.Registry satisfies it.
type TwinResolver interface {
	FindTwinByEntity(ctx context.Context, entityType, entityID string) (*twin.Twin, error)
	InstantiateService(ctx context.Context, twinID, name string) (twin.Service, error)
}

// ForecastProvider fetches a weather forecast for a location.
type ForecastProvider interface {
	Forecast(ctx context.Context, location string) (*forecast.Forecast, error)
}

// CommandPublisher delivers commands to a plant's controller.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, plantID string, cmd Command) error
}

// Notifier alerts a plant's owner. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ownerID, plantName string, value float64, kind string) error
}

// EventSink receives live events for connected clients.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// Recorder keeps a time series of readings and actions.
type Recorder interface {
	RecordMeasurement(plantID string, m entity.Measurement)
	RecordAction(plantID string, action Action, durationMs int64, at time.Time)
}

// Recorders fans every record out to each member in order.
type Recorders []Recorder

// RecordMeasurement implements Recorder.
func (rs Recorders) RecordMeasurement(plantID string, m entity.Measurement) {
	for _, r := range rs {
		r.RecordMeasurement(plantID, m)
	}
}

// RecordAction implements Recorder.
func (rs Recorders) RecordAction(plantID string, action Action, durationMs int64, at time.Time) {
	for _, r := range rs {
		r.RecordAction(plantID, action, durationMs, at)
	}
}

// Options tunes a Processor.
type Options struct {
	// ForecastTimeout bounds one forecast fetch.
	ForecastTimeout time.Duration

	// ManualWaterDuration is used by WaterNow when no duration is given,
	// in milliseconds.
	ManualWaterDuration int64
}

// Processor turns measurement batches into persisted state and actions.
//
// Events for the same plant are serialised by a per-plant lock spanning
// fetch, decide and persist; distinct plants proceed concurrently. A due
// forecast is fetched before the lock is taken, bounded by
// ForecastTimeout, and shared between concurrent callers for the same
// location.
//
// Thread Safety: all methods are safe for concurrent use.
type Processor struct {
	store     entity.Store
	factory   *entity.Factory
	twins     TwinResolver
	forecasts ForecastProvider
	publisher CommandPublisher
	notifier  Notifier
	events    EventSink
	recorder  Recorder
	logger    Logger

	forecastTimeout time.Duration
	manualDuration  int64

	locks  *entity.Locks
	flight singleflight.Group
	now    func() time.Time
}

// NewProcessor creates a processor. factory must be the plant factory.
func NewProcessor(store entity.Store, factory *entity.Factory, twins TwinResolver, forecasts ForecastProvider, publisher CommandPublisher, opts Options) *Processor {
	if opts.ForecastTimeout <= 0 {
		opts.ForecastTimeout = DefaultForecastTimeout
	}
	if opts.ManualWaterDuration <= 0 {
		opts.ManualWaterDuration = DefaultManualWaterDuration
	}
	return &Processor{
		store:           store,
		factory:         factory,
		twins:           twins,
		forecasts:       forecasts,
		publisher:       publisher,
		logger:          noopLogger{},
		forecastTimeout: opts.ForecastTimeout,
		manualDuration:  opts.ManualWaterDuration,
		locks:           entity.NewLocks(),
		now:             time.Now,
	}
}

// SetLogger sets the logger.
func (p *Processor) SetLogger(logger Logger) {
	p.logger = logger
}

// SetNotifier sets the owner notifier. Without one, notifications are
// only logged.
func (p *Processor) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetEventSink sets the live event sink.
func (p *Processor) SetEventSink(s EventSink) {
	p.events = s
}

// SetRecorder sets the time-series recorder.
func (p *Processor) SetRecorder(r Recorder) {
	p.recorder = r
}

// LockPlant takes the per-plant lock used by HandleMeasurements and returns
// its release function. Other writers of the plant document hold it to
// avoid lost updates.
func (p *Processor) LockPlant(plantID string) func() {
	return p.locks.Lock(plantID)
}

// HandleMeasurements appends a batch to the plant's history and evaluates
// the latest humidity and the latest light reading of the batch, in that
// order. The plant is persisted once; actions run after the lock is
// released.
//
// Plants outside any managed twin still get their history updated and
// yield no decisions. Store failures abort with ErrExternalService and
// no action is taken.
func (p *Processor) HandleMeasurements(ctx context.Context, plantID string, ms []entity.Measurement) ([]Decision, error) {
	if len(ms) == 0 {
		return nil, nil
	}

	plant, err := p.loadPlant(ctx, plantID)
	if err != nil {
		return nil, err
	}

	engine, err := p.engineFor(ctx, plantID)
	if err != nil && !errors.Is(err, ErrNotManaged) {
		return nil, err
	}

	var fc *forecast.Forecast
	if engine != nil && engine.ForecastDue(plant, StateOf(plant)) {
		fc = p.prefetch(ctx, plant)
	}

	unlock := p.locks.Lock(plantID)
	updated, added, decisions, err := p.decide(ctx, plantID, engine, ms, fc)
	unlock()
	if err != nil {
		return nil, err
	}

	for _, m := range added {
		if p.recorder != nil {
			p.recorder.RecordMeasurement(plantID, m)
		}
		p.broadcast(ChannelMeasurement, map[string]any{
			"plant_id":  plantID,
			"type":      m.Type,
			"value":     m.Value,
			"timestamp": m.Timestamp,
		})
	}
	for _, d := range decisions {
		p.execute(ctx, updated, d)
	}
	return decisions, nil
}

// decide runs under the plant lock. Redelivered readings are dropped
// before evaluation, so a batch that only repeats stored readings yields
// no decisions and no write.
func (p *Processor) decide(ctx context.Context, plantID string, engine *Engine, ms []entity.Measurement, fc *forecast.Forecast) (*entity.Entity, []entity.Measurement, []Decision, error) {
	current, err := p.loadPlant(ctx, plantID)
	if err != nil {
		return nil, nil, nil, err
	}

	updated, added, err := p.factory.MergeMeasurements(current, ms)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(added) == 0 {
		p.logger.Debug("duplicate measurements ignored", "plant_id", plantID, "count", len(ms))
		return current, nil, nil, nil
	}

	var decisions []Decision
	if engine != nil {
		st := StateOf(updated)
		for _, m := range latestPerKind(added) {
			var d Decision
			d, st = engine.Evaluate(updated, st, m, fc)
			decisions = append(decisions, d)
		}
		updated, err = p.factory.Update(updated, entity.Values{
			Metadata: map[string]any{ManagementInfoKey: st.Map()},
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if err := p.store.Update(ctx, entity.TypePlant, plantID, updated); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: saving plant %s: %w", ErrExternalService, plantID, err)
	}
	p.logger.Debug("measurements processed", "plant_id", plantID, "count", len(added), "decisions", len(decisions))
	return updated, added, decisions, nil
}

// execute carries out one decision. Failures are logged; the state that
// led to the decision is already persisted.
func (p *Processor) execute(ctx context.Context, plant *entity.Entity, d Decision) {
	if d.Action == ActionNone {
		return
	}
	plantID := plant.ID
	at := p.now().UTC()

	switch d.Action {
	case ActionWater:
		cmd := Command{Name: CommandWater, Duration: d.DurationMs}
		if err := p.publish(ctx, plantID, cmd); err != nil {
			p.logger.Error("water command failed", "plant_id", plantID, "error", err)
			return
		}
		p.logger.Info("watering", "plant_id", plantID, "duration_ms", d.DurationMs, "humidity", d.Reading.Value)
	case ActionNotifyHumidity:
		p.notify(ctx, plant, d.Reading.Value, NotifyHumidity)
	case ActionNotifyLight:
		p.notify(ctx, plant, d.Reading.Value, NotifyLight)
	}

	if p.recorder != nil {
		p.recorder.RecordAction(plantID, d.Action, d.DurationMs, at)
	}
	p.broadcast(ChannelAction, map[string]any{
		"plant_id":    plantID,
		"action":      d.Action,
		"duration_ms": d.DurationMs,
		"reading":     d.Reading,
		"at":          at,
	})
}

// WaterNow sends a manual watering command. A non-positive durationMs
// selects the configured default.
func (p *Processor) WaterNow(ctx context.Context, plantID string, durationMs int64) (Command, error) {
	if _, err := p.loadPlant(ctx, plantID); err != nil {
		return Command{}, err
	}
	if durationMs <= 0 {
		durationMs = p.manualDuration
	}

	cmd := Command{Name: CommandWater, Duration: durationMs}
	if err := p.publish(ctx, plantID, cmd); err != nil {
		return Command{}, err
	}

	at := p.now().UTC()
	if p.recorder != nil {
		p.recorder.RecordAction(plantID, ActionWater, durationMs, at)
	}
	p.broadcast(ChannelAction, map[string]any{
		"plant_id":    plantID,
		"action":      ActionWater,
		"duration_ms": durationMs,
		"manual":      true,
		"at":          at,
	})
	p.logger.Info("manual watering", "plant_id", plantID, "duration_ms", durationMs)
	return cmd, nil
}

// RequestReading asks the plant's controller to publish readings now.
func (p *Processor) RequestReading(ctx context.Context, plantID string) error {
	if _, err := p.loadPlant(ctx, plantID); err != nil {
		return err
	}
	return p.publish(ctx, plantID, Command{Name: CommandSendNow})
}

// Calibrate asks the plant's controller to take the current humidity
// reading as the dry or wet end of the sensor scale. The sensor should be
// in dry air or water respectively when this is sent.
func (p *Processor) Calibrate(ctx context.Context, plantID, point string) (Command, error) {
	var (
		cmd    Command
		action Action
	)
	switch point {
	case CalibrationDry:
		cmd, action = Command{Name: CommandCalDry}, ActionCalibrateDry
	case CalibrationWet:
		cmd, action = Command{Name: CommandCalWet}, ActionCalibrateWet
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCalibration, point)
	}

	if _, err := p.loadPlant(ctx, plantID); err != nil {
		return Command{}, err
	}
	if err := p.publish(ctx, plantID, cmd); err != nil {
		return Command{}, err
	}

	at := p.now().UTC()
	if p.recorder != nil {
		p.recorder.RecordAction(plantID, action, 0, at)
	}
	p.broadcast(ChannelAction, map[string]any{
		"plant_id": plantID,
		"action":   action,
		"manual":   true,
		"at":       at,
	})
	p.logger.Info("sensor calibration requested", "plant_id", plantID, "point", point)
	return cmd, nil
}

// HandleError reports a controller error. Pump errors notify the owner.
func (p *Processor) HandleError(ctx context.Context, plantID string, ev ErrorEvent) error {
	plant, err := p.loadPlant(ctx, plantID)
	if err != nil {
		return err
	}

	p.broadcast(ChannelError, map[string]any{
		"plant_id":  plantID,
		"level":     ev.Level,
		"code":      ev.Code,
		"delta":     ev.Delta,
		"timestamp": ev.Timestamp,
	})

	if ev.Code != ErrorCodePump {
		p.logger.Warn("unhandled controller error", "plant_id", plantID, "code", ev.Code, "level", ev.Level)
		return nil
	}
	p.logger.Warn("pump error", "plant_id", plantID, "delta", ev.Delta)
	p.notify(ctx, plant, ev.Delta, NotifyError)
	return nil
}

func (p *Processor) loadPlant(ctx context.Context, plantID string) (*entity.Entity, error) {
	plant, err := p.store.Get(ctx, entity.TypePlant, plantID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading plant %s: %w", ErrExternalService, plantID, err)
	}
	return plant, nil
}

// engineFor resolves the PlantManagement service of the plant's twin.
func (p *Processor) engineFor(ctx context.Context, plantID string) (*Engine, error) {
	t, err := p.twins.FindTwinByEntity(ctx, entity.TypePlant, plantID)
	if err != nil {
		if errors.Is(err, twin.ErrTwinNotFound) {
			return nil, fmt.Errorf("%w: %s has no twin", ErrNotManaged, plantID)
		}
		return nil, err
	}
	svc, err := p.twins.InstantiateService(ctx, t.ID, twin.ServicePlantManagement)
	if err != nil {
		if errors.Is(err, twin.ErrServiceNotFound) {
			return nil, fmt.Errorf("%w: twin %s has no %s", ErrNotManaged, t.ID, twin.ServicePlantManagement)
		}
		return nil, err
	}
	mgmt, ok := svc.(*ManagementService)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrNotManaged, twin.ServicePlantManagement, svc)
	}
	return mgmt.Engine(), nil
}

// prefetch fetches a forecast for the plant, returning nil on any failure
// so the engine keeps its cached facts.
func (p *Processor) prefetch(ctx context.Context, plant *entity.Entity) *forecast.Forecast {
	location := plant.ProfileString("location")
	if location == "" {
		p.logger.Debug("forecast skipped: plant has no location", "plant_id", plant.ID)
		return nil
	}
	fc, err := p.fetchForecast(ctx, location)
	if err != nil {
		p.logger.Warn("forecast unavailable, using cached state", "plant_id", plant.ID, "location", location, "error", err)
		return nil
	}
	return fc
}

func (p *Processor) fetchForecast(ctx context.Context, location string) (*forecast.Forecast, error) {
	if p.forecasts == nil {
		return nil, errors.New("no forecast provider")
	}
	return fetchShared(ctx, &p.flight, p.forecasts, location, p.forecastTimeout)
}

// fetchShared collapses concurrent fetches for one location and bounds
// the wait by timeout. The shared fetch outlives a cancelled caller.
func fetchShared(ctx context.Context, group *singleflight.Group, provider ForecastProvider, location string, timeout time.Duration) (*forecast.Forecast, error) {
	key := strings.ToLower(strings.TrimSpace(location))
	ch := group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return provider.Forecast(fctx, location)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fc, _ := res.Val.(*forecast.Forecast)
		if fc == nil {
			return nil, errors.New("empty forecast")
		}
		return fc, nil
	case <-timer.C:
		return nil, fmt.Errorf("forecast for %q: %w", location, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) publish(ctx context.Context, plantID string, cmd Command) error {
	if p.publisher == nil {
		return fmt.Errorf("%w: no command publisher", ErrExternalService)
	}
	if err := p.publisher.PublishCommand(ctx, plantID, cmd); err != nil {
		return fmt.Errorf("%w: publishing %s to %s: %w", ErrExternalService, cmd.Name, plantID, err)
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, plant *entity.Entity, value float64, kind string) {
	owner := plant.ProfileString("owner_id")
	name := plant.ProfileString("name")
	if p.notifier == nil {
		p.logger.Info("notification (no notifier)", "plant_id", plant.ID, "kind", kind, "value", value)
		return
	}
	if err := p.notifier.Notify(ctx, owner, name, value, kind); err != nil {
		p.logger.Warn("notification failed", "plant_id", plant.ID, "owner_id", owner, "kind", kind, "error", err)
	}
}

func (p *Processor) broadcast(channel string, payload any) {
	if p.events != nil {
		p.events.Broadcast(channel, payload)
	}
}

// latestPerKind picks the latest humidity and the latest light reading,
// humidity first. Equal timestamps resolve to the later batch position.
func latestPerKind(ms []entity.Measurement) []entity.Measurement {
	latest := make(map[string]entity.Measurement, 2)
	for _, m := range ms {
		if m.Type != entity.KindHumidity && m.Type != entity.KindLight {
			continue
		}
		if prev, ok := latest[m.Type]; !ok || !m.Timestamp.Before(prev.Timestamp) {
			latest[m.Type] = m
		}
	}

	out := make([]entity.Measurement, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Type == entity.KindHumidity && out[j].Type != entity.KindHumidity
	})
	return out
}
