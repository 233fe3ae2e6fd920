package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
)

// RainHours is the number of upcoming forecast hours averaged for the rain
// probability.
const RainHours = 3

// Client fetches forecasts from the weatherapi.com forecast endpoint.
//
// Client is safe for concurrent use.
type Client struct {
	http   *resty.Client
	apiKey string
	now    func() time.Time
}

// NewClient creates a weather client from configuration.
func NewClient(cfg config.WeatherConfig) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{http: c, apiKey: cfg.APIKey, now: time.Now}
}

type apiResponse struct {
	Location struct {
		Name           string `json:"name"`
		LocaltimeEpoch int64  `json:"localtime_epoch"`
		Localtime      string `json:"localtime"`
	} `json:"location"`
	Current struct {
		IsDay     int `json:"is_day"`
		Condition struct {
			Text string `json:"text"`
			Code int    `json:"code"`
		} `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date  string `json:"date"`
			Astro struct {
				Sunrise string `json:"sunrise"`
				Sunset  string `json:"sunset"`
			} `json:"astro"`
			Hour []struct {
				TimeEpoch    int64   `json:"time_epoch"`
				ChanceOfRain float64 `json:"chance_of_rain"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

// Forecast fetches the two-day forecast for location and summarises it.
func (c *Client) Forecast(ctx context.Context, location string) (*Forecast, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, ErrNoLocation
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    c.apiKey,
			"q":      location,
			"days":   "2",
			"aqi":    "no",
			"alerts": "no",
		}).
		Get("/v1/forecast.json")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode(), resp.String())
	}

	var body apiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %w", ErrInvalidResponse, err)
	}
	return summarise(&body, location, c.now().UTC())
}

func summarise(body *apiResponse, location string, now time.Time) (*Forecast, error) {
	days := body.Forecast.ForecastDay
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no forecast days", ErrInvalidResponse)
	}

	rain, err := rainProbability(body, now)
	if err != nil {
		return nil, err
	}

	offset := localOffset(body.Location.Localtime, body.Location.LocaltimeEpoch)
	sunrise, err := astroTime(days[0].Date, days[0].Astro.Sunrise, offset)
	if err != nil {
		return nil, err
	}
	sunset, err := astroTime(days[0].Date, days[0].Astro.Sunset, offset)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(body.Current.Condition.Text)
	sunny := body.Current.IsDay == 1 &&
		(body.Current.Condition.Code == 1000 || strings.Contains(text, "sun") || strings.Contains(text, "clear"))

	name := body.Location.Name
	if name == "" {
		name = location
	}
	return &Forecast{
		Location:        name,
		RainProbability: rain,
		Sunrise:         sunrise,
		Sunset:          sunset,
		Sunny:           sunny,
		FetchedAt:       now,
	}, nil
}

// rainProbability averages chance_of_rain over the RainHours forecast
// hours that start after now. Hours are matched by epoch range rather than
// UTC hour boundaries, so zones with half-hour offsets line up.
func rainProbability(body *apiResponse, now time.Time) (float64, error) {
	var upcoming []int64
	chance := make(map[int64]float64)
	for _, day := range body.Forecast.ForecastDay {
		for _, h := range day.Hour {
			if h.TimeEpoch <= now.Unix() {
				continue
			}
			if _, seen := chance[h.TimeEpoch]; !seen {
				upcoming = append(upcoming, h.TimeEpoch)
			}
			chance[h.TimeEpoch] = h.ChanceOfRain
		}
	}
	if len(upcoming) == 0 {
		return 0, fmt.Errorf("%w: no upcoming hours", ErrInvalidResponse)
	}
	slices.Sort(upcoming)
	if len(upcoming) > RainHours {
		upcoming = upcoming[:RainHours]
	}

	var total float64
	for _, epoch := range upcoming {
		total += chance[epoch]
	}
	return total / float64(len(upcoming)), nil
}

// localOffset derives the location's UTC offset from its local wall
// clock and the matching epoch.
func localOffset(localtime string, epoch int64) time.Duration {
	wall, err := time.Parse("2006-01-02 15:04", localtime)
	if err != nil || epoch == 0 {
		return 0
	}
	offset := wall.Sub(time.Unix(epoch, 0).UTC())
	return offset.Round(15 * time.Minute)
}

// astroTime converts a local "06:12 AM" on date to UTC.
func astroTime(date, clock string, offset time.Duration) (time.Time, error) {
	local, err := time.Parse("2006-01-02 03:04 PM", date+" "+strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: astro time %q: %w", ErrInvalidResponse, clock, err)
	}
	return local.Add(-offset).UTC(), nil
}
