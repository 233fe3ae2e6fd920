package plantcare

import "time"

// Preset names.
const (
	PresetFragile   = "fragile"
	PresetNormal    = "normal"
	PresetResilient = "resilient"
)

// Preset is a bundle of thresholds selecting plant-care sensitivity.
type Preset struct {
	Name string `json:"name"`

	// RainThreshold is the rain probability, in percent, above which
	// outdoor auto-watering is suppressed.
	RainThreshold float64 `json:"rain_threshold"`

	HumidityThreshold float64 `json:"humidity_threshold"`
	LightThreshold    float64 `json:"light_threshold"`

	ForecastCooldown time.Duration `json:"forecast_cooldown"`

	// DeltaSkip is how long a forecast-based suppression may last before
	// a dry reading forces watering anyway.
	DeltaSkip time.Duration `json:"delta_skip"`

	NotifyCooldown time.Duration `json:"notify_cooldown"`
}

var presets = map[string]Preset{
	PresetFragile: {
		Name:              PresetFragile,
		RainThreshold:     40,
		HumidityThreshold: 40,
		LightThreshold:    400,
		ForecastCooldown:  2 * time.Hour,
		DeltaSkip:         6 * time.Hour,
		NotifyCooldown:    30 * time.Minute,
	},
	PresetNormal: {
		Name:              PresetNormal,
		RainThreshold:     50,
		HumidityThreshold: 30,
		LightThreshold:    300,
		ForecastCooldown:  3 * time.Hour,
		DeltaSkip:         12 * time.Hour,
		NotifyCooldown:    60 * time.Minute,
	},
	PresetResilient: {
		Name:              PresetResilient,
		RainThreshold:     60,
		HumidityThreshold: 20,
		LightThreshold:    200,
		ForecastCooldown:  6 * time.Hour,
		DeltaSkip:         24 * time.Hour,
		NotifyCooldown:    120 * time.Minute,
	},
}

// ResolvePreset returns the named preset. Unknown or empty names resolve
// to the normal preset.
func ResolvePreset(name string) Preset {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets[PresetNormal]
}

// Presets returns every preset keyed by name.
func Presets() map[string]Preset {
	out := make(map[string]Preset, len(presets))
	for k, v := range presets {
		out[k] = v
	}
	return out
}
