package plantcare

import (
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/forecast"
)

// DefaultLightWindow is the trailing window averaged by the light branch.
const DefaultLightWindow = 10 * time.Minute

// Action is the outcome of one engine evaluation.
type Action string

// Actions.
const (
	ActionNone           Action = "none"
	ActionNotifyHumidity Action = "notify_humidity"
	ActionNotifyLight    Action = "notify_light"
	ActionWater          Action = "water"
)

// Decision is an action plus the reading that caused it.
type Decision struct {
	Action     Action             `json:"action"`
	DurationMs int64              `json:"duration_ms,omitempty"`
	Reading    entity.Measurement `json:"reading"`
}

// Engine evaluates one measurement at a time for one plant.
//
// Engine is a pure function of its inputs and the clock; callers
// serialise evaluations per plant and persist the returned state.
type Engine struct {
	lightWindow time.Duration
	now         func() time.Time
}

// NewEngine creates an engine. A non-positive window selects
// DefaultLightWindow.
func NewEngine(lightWindow time.Duration) *Engine {
	if lightWindow <= 0 {
		lightWindow = DefaultLightWindow
	}
	return &Engine{lightWindow: lightWindow, now: time.Now}
}

// LightWindow returns the configured light averaging window.
func (e *Engine) LightWindow() time.Duration {
	return e.lightWindow
}

// ForecastDue reports whether st calls for a forecast refresh.
func (e *Engine) ForecastDue(plant *entity.Entity, st State) bool {
	if st.LastForecast == nil {
		return true
	}
	preset := ResolvePreset(plant.ProfileString("preset"))
	return e.now().Sub(*st.LastForecast) >= preset.ForecastCooldown
}

// Evaluate runs the forecast refresh and then the branch for m.
//
// plant is the document whose history already includes m. fc is the
// forecast fetched for this event, or nil when none was fetched or the
// fetch failed; a nil fc leaves the cached facts and last_forecast as they
// are. The returned state must be persisted whatever the action.
func (e *Engine) Evaluate(plant *entity.Entity, st State, m entity.Measurement, fc *forecast.Forecast) (Decision, State) {
	st = st.clone()
	now := e.now().UTC()
	preset := ResolvePreset(plant.ProfileString("preset"))

	if fc != nil && e.ForecastDue(plant, st) {
		e.applyForecast(plant, &st, preset, fc, now)
	}

	d := Decision{Action: ActionNone, Reading: m}
	switch m.Type {
	case entity.KindLight:
		d.Action = e.light(plant, &st, preset, m, now)
	case entity.KindHumidity:
		d.Action = e.humidity(plant, &st, preset, m, now)
	}
	if d.Action == ActionWater {
		d.DurationMs = WaterDuration(preset.HumidityThreshold, m.Value)
	}
	return d, st
}

func (e *Engine) applyForecast(plant *entity.Entity, st *State, preset Preset, fc *forecast.Forecast, now time.Time) {
	sunrise, sunset := fc.Sunrise.UTC(), fc.Sunset.UTC()
	st.SunriseH = &sunrise
	st.SunsetH = &sunset
	st.Sunny = fc.Sunny

	if plant.ProfileBool("outdoor") && plant.ProfileBool("auto_watering") {
		// A pending forced override lets exactly one forecast cycle through.
		st.DisableAW = fc.RainProbability > preset.RainThreshold && !st.SkipPred
		st.SkipPred = false
	}
	st.LastForecast = &now
}

func (e *Engine) light(plant *entity.Entity, st *State, preset Preset, m entity.Measurement, now time.Time) Action {
	if e.lightMean(plant, m) >= preset.LightThreshold {
		st.removePending(TriggerLight)
		return ActionNone
	}

	st.addPending(TriggerLight)
	if !st.Sunny || !inDaylight(now, st.SunriseH, st.SunsetH) {
		return ActionNone
	}
	if !cooldownElapsed(st.LastWarningL, preset.NotifyCooldown, now) {
		return ActionNone
	}
	st.LastWarningL = &now
	return ActionNotifyLight
}

// lightMean averages light readings in [m.Timestamp-window, m.Timestamp].
func (e *Engine) lightMean(plant *entity.Entity, m entity.Measurement) float64 {
	from := m.Timestamp.Add(-e.lightWindow)
	var sum float64
	var n int
	for _, r := range plant.Measurements() {
		if r.Type != entity.KindLight || r.Timestamp.Before(from) || r.Timestamp.After(m.Timestamp) {
			continue
		}
		sum += r.Value
		n++
	}
	if n == 0 {
		return m.Value
	}
	return sum / float64(n)
}

func (e *Engine) humidity(plant *entity.Entity, st *State, preset Preset, m entity.Measurement, now time.Time) Action {
	if m.Value >= preset.HumidityThreshold {
		st.removePending(TriggerHumidity)
		return ActionNone
	}

	switch {
	case !plant.ProfileBool("auto_watering"):
		st.addPending(TriggerHumidity)
		if !cooldownElapsed(st.LastWarningH, preset.NotifyCooldown, now) {
			return ActionNone
		}
		st.LastWarningH = &now
		return ActionNotifyHumidity
	case !plant.ProfileBool("outdoor"):
		return ActionWater
	case !st.DisableAW:
		return ActionWater
	}

	// Outdoor and blocked by the forecast: force watering once the
	// suppression has lasted DeltaSkip.
	if st.LastForecast == nil || m.Timestamp.Sub(*st.LastForecast) >= preset.DeltaSkip {
		st.SkipPred = true
		return ActionWater
	}
	return ActionNone
}

func cooldownElapsed(last *time.Time, cooldown time.Duration, now time.Time) bool {
	return last == nil || now.Sub(*last) >= cooldown
}

// inDaylight reports whether the time of day of now lies within
// [sunrise, sunset]. Only the UTC clock times are compared so a cached
// pair stays usable on later days.
func inDaylight(now time.Time, sunrise, sunset *time.Time) bool {
	if sunrise == nil || sunset == nil {
		return false
	}
	t := clockOf(now)
	rise, set := clockOf(*sunrise), clockOf(*sunset)
	if rise <= set {
		return t >= rise && t <= set
	}
	// Daylight spans UTC midnight.
	return t >= rise || t <= set
}

func clockOf(t time.Time) time.Duration {
	t = t.UTC()
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}
