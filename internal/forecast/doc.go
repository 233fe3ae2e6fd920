// Package forecast is a weatherapi.com client.
//
// Forecast returns the mean chance of rain over the next RainHours hours,
// today's sunrise and sunset converted to UTC, and whether the sky is
// currently sunny:
//
//	client := forecast.NewClient(cfg.Weather)
//	fc, err := client.Forecast(ctx, "Milan")
package forecast
