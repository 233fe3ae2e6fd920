package forecast

import "time"

// Forecast is the summary used by the plant-care engine.
// All times are UTC.
type Forecast struct {
	Location string `json:"location"`

	// RainProbability is the mean chance of rain, in percent, over the
	// next few hours.
	RainProbability float64 `json:"rain_probability"`

	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`

	// Sunny reports whether it is daytime with a clear or sunny sky.
	Sunny bool `json:"sunny"`

	FetchedAt time.Time `json:"fetched_at"`
}
