package plantcare

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/forecast"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// DefaultRainThreshold is the rain probability, in percent, at or above
// which WeatherForecastService advises skipping.
const DefaultRainThreshold = 50

// Watering advice returned by the weather and auto-watering services.
const (
	AdviceWater = "water"
	AdviceSkip  = "skip"
)

// ServiceDeps are shared by the plant-care services.
type ServiceDeps struct {
	Forecasts       ForecastProvider
	LightWindow     time.Duration
	ForecastTimeout time.Duration
	Logger          Logger

	// Now overrides the engine clock. Nil means time.Now.
	Now func() time.Time
}

// RegisterServices binds the plant-care services into catalog.
func RegisterServices(catalog *twin.Catalog, deps ServiceDeps) error {
	if deps.ForecastTimeout <= 0 {
		deps.ForecastTimeout = DefaultForecastTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	var flight singleflight.Group

	ctors := map[string]twin.Constructor{
		twin.ServicePlantManagement: func() twin.Service {
			return &ManagementService{deps: deps, flight: &flight}
		},
		twin.ServiceWeatherForecast: func() twin.Service {
			return &WeatherForecastService{forecasts: deps.Forecasts, rainThreshold: DefaultRainThreshold}
		},
		twin.ServiceAutoWatering: func() twin.Service {
			return &AutoWateringService{weather: WeatherForecastService{forecasts: deps.Forecasts, rainThreshold: DefaultRainThreshold}}
		},
	}
	for name, ctor := range ctors {
		if err := catalog.Register(name, ctor); err != nil {
			return err
		}
	}
	return nil
}

// ManagementService is the PlantManagement service: it wraps an Engine
// configured from the attachment.
//
// Recognised config keys:
//   - light_window: duration string ("15m") or minutes
type ManagementService struct {
	deps   ServiceDeps
	flight *singleflight.Group
	engine *Engine
}

// Outcome is the result of ManagementService.Execute.
type Outcome struct {
	Decision Decision `json:"decision"`
	State    State    `json:"state"`
}

// Name returns the catalog name.
func (s *ManagementService) Name() string {
	return twin.ServicePlantManagement
}

// Configure builds the engine from config.
func (s *ManagementService) Configure(config map[string]any) error {
	window := s.deps.LightWindow
	if raw, ok := config["light_window"]; ok && raw != nil {
		d, err := durationValue(raw, time.Minute)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: light_window %v", ErrInvalidConfig, raw)
		}
		window = d
	}
	s.engine = NewEngine(window)
	s.engine.now = s.deps.Now
	return nil
}

// Engine returns the configured engine.
func (s *ManagementService) Engine() *Engine {
	if s.engine == nil {
		s.engine = NewEngine(s.deps.LightWindow)
		s.engine.now = s.deps.Now
	}
	return s.engine
}

// Execute evaluates req.Measurement for the plant in req.Entities[0] and
// returns the decision with the state to persist. It does not persist or
// act; the Processor does both under the plant lock.
func (s *ManagementService) Execute(ctx context.Context, req twin.Request) (any, error) {
	plant, err := firstEntity(req)
	if err != nil {
		return nil, err
	}
	if req.Measurement == nil {
		return nil, fmt.Errorf("%w: measurement is required", ErrInvalidConfig)
	}

	engine := s.Engine()
	st := StateOf(plant)
	var fc *forecast.Forecast
	if s.deps.Forecasts != nil && engine.ForecastDue(plant, st) {
		if loc := plant.ProfileString("location"); loc != "" {
			// On failure the engine falls back to the cached forecast state.
			if fc, err = fetchShared(ctx, s.flight, s.deps.Forecasts, loc, s.deps.ForecastTimeout); err != nil {
				s.deps.Logger.Warn("forecast unavailable, using cached state", "plant_id", plant.ID, "location", loc, "error", err)
			}
		}
	}
	d, next := engine.Evaluate(plant, st, *req.Measurement, fc)
	return Outcome{Decision: d, State: next}, nil
}

// WeatherAdvice is the result of WeatherForecastService.Execute.
type WeatherAdvice struct {
	Decision        string  `json:"decision"`
	ChanceOfRainAvg float64 `json:"chance_of_rain_avg"`
	Location        string  `json:"location"`
}

// WeatherForecastService advises watering when rain is unlikely.
//
// Recognised config keys:
//   - location: overrides the plant's profile.location
//   - rain_threshold: percent, default 50
type WeatherForecastService struct {
	forecasts     ForecastProvider
	location      string
	rainThreshold float64
}

// Name returns the catalog name.
func (s *WeatherForecastService) Name() string {
	return twin.ServiceWeatherForecast
}

// Configure applies location and rain_threshold.
func (s *WeatherForecastService) Configure(config map[string]any) error {
	if raw, ok := config["location"]; ok && raw != nil {
		loc, isStr := raw.(string)
		if !isStr {
			return fmt.Errorf("%w: location %v", ErrInvalidConfig, raw)
		}
		s.location = loc
	}
	if raw, ok := config["rain_threshold"]; ok && raw != nil {
		f, valid := numberValue(raw)
		if !valid || f < 0 || f > 100 {
			return fmt.Errorf("%w: rain_threshold %v", ErrInvalidConfig, raw)
		}
		s.rainThreshold = f
	}
	return nil
}

// Execute fetches the forecast and compares the rain probability.
func (s *WeatherForecastService) Execute(ctx context.Context, req twin.Request) (any, error) {
	location := s.location
	if location == "" && len(req.Entities) > 0 && req.Entities[0] != nil {
		location = req.Entities[0].ProfileString("location")
	}
	if location == "" {
		return nil, fmt.Errorf("%w: no location", ErrInvalidConfig)
	}
	if s.forecasts == nil {
		return nil, fmt.Errorf("%w: no forecast provider", ErrExternalService)
	}

	fc, err := s.forecasts.Forecast(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	if fc == nil {
		return nil, fmt.Errorf("%w: empty forecast for %s", ErrExternalService, location)
	}
	advice := AdviceSkip
	if fc.RainProbability < s.rainThreshold {
		advice = AdviceWater
	}
	return WeatherAdvice{Decision: advice, ChanceOfRainAvg: fc.RainProbability, Location: location}, nil
}

// WateringAdvice is the result of AutoWateringService.Execute.
type WateringAdvice struct {
	Decision string         `json:"decision"`
	Reason   string         `json:"reason"`
	Weather  *WeatherAdvice `json:"weather,omitempty"`
}

// AutoWateringService advises whether a plant should be watered:
// never without auto-watering, always indoors, and outdoors per the
// weather forecast. It accepts the WeatherForecastService config keys.
type AutoWateringService struct {
	weather WeatherForecastService
}

// Name returns the catalog name.
func (s *AutoWateringService) Name() string {
	return twin.ServiceAutoWatering
}

// Configure forwards config to the embedded weather service.
func (s *AutoWateringService) Configure(config map[string]any) error {
	return s.weather.Configure(config)
}

// Execute advises for the plant in req.Entities[0].
func (s *AutoWateringService) Execute(ctx context.Context, req twin.Request) (any, error) {
	plant, err := firstEntity(req)
	if err != nil {
		return nil, err
	}
	if !plant.ProfileBool("auto_watering") {
		return WateringAdvice{Decision: AdviceSkip, Reason: "auto_watering_disabled"}, nil
	}
	if !plant.ProfileBool("outdoor") {
		return WateringAdvice{Decision: AdviceWater, Reason: "indoor"}, nil
	}

	res, err := s.weather.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	w, ok := res.(WeatherAdvice)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected weather result %T", ErrExternalService, res)
	}
	return WateringAdvice{Decision: w.Decision, Reason: "forecast", Weather: &w}, nil
}

func firstEntity(req twin.Request) (*entity.Entity, error) {
	if len(req.Entities) == 0 || req.Entities[0] == nil {
		return nil, fmt.Errorf("%w: a plant entity is required", ErrInvalidConfig)
	}
	return req.Entities[0], nil
}

func numberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

// durationValue reads a duration string, or a number of units.
func durationValue(v any, unit time.Duration) (time.Duration, error) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	f, ok := numberValue(v)
	if !ok {
		return 0, fmt.Errorf("not a duration: %v", v)
	}
	return time.Duration(f * float64(unit)), nil
}
