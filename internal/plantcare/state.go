package plantcare

import (
	"slices"
	"sort"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
)

// ManagementInfoKey is the plant metadata key holding the engine state.
const ManagementInfoKey = "management_info"

// Pending trigger kinds.
const (
	TriggerHumidity = entity.KindHumidity
	TriggerLight    = entity.KindLight
)

// State is the engine's private per-plant state, persisted under
// metadata.management_info. Unset timestamps are nil.
type State struct {
	LastForecast   *time.Time `json:"last_forecast"`
	DisableAW      bool       `json:"disable_aw"`
	SkipPred       bool       `json:"skip_pred"`
	PendingActions []string   `json:"pending_actions"`
	LastWarningH   *time.Time `json:"last_warning_ts_h"`
	LastWarningL   *time.Time `json:"last_warning_ts_l"`
	SunriseH       *time.Time `json:"sunrise_h"`
	SunsetH        *time.Time `json:"sunset_h"`
	Sunny          bool       `json:"Sunny"`
}

// StateOf decodes the engine state of a plant. Missing or malformed keys
// read as their zero value.
func StateOf(plant *entity.Entity) State {
	info := plant.MetadataMap(ManagementInfoKey)

	st := State{
		LastForecast: timeField(info["last_forecast"]),
		DisableAW:    boolField(info["disable_aw"]),
		SkipPred:     boolField(info["skip_pred"]),
		LastWarningH: timeField(info["last_warning_ts_h"]),
		LastWarningL: timeField(info["last_warning_ts_l"]),
		SunriseH:     timeField(info["sunrise_h"]),
		SunsetH:      timeField(info["sunset_h"]),
		Sunny:        boolField(info["Sunny"]),
	}
	if list, ok := info["pending_actions"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				st.addPending(s)
			}
		}
	}
	return st
}

// Map encodes the state for storage in entity metadata.
func (s State) Map() map[string]any {
	pending := make([]any, 0, len(s.PendingActions))
	for _, p := range s.PendingActions {
		pending = append(pending, p)
	}
	return map[string]any{
		"last_forecast":     timeValue(s.LastForecast),
		"disable_aw":        s.DisableAW,
		"skip_pred":         s.SkipPred,
		"pending_actions":   pending,
		"last_warning_ts_h": timeValue(s.LastWarningH),
		"last_warning_ts_l": timeValue(s.LastWarningL),
		"sunrise_h":         timeValue(s.SunriseH),
		"sunset_h":          timeValue(s.SunsetH),
		"Sunny":             s.Sunny,
	}
}

// HasPending reports whether kind is an unresolved trigger.
func (s State) HasPending(kind string) bool {
	return slices.Contains(s.PendingActions, kind)
}

func (s *State) addPending(kind string) {
	if s.HasPending(kind) {
		return
	}
	s.PendingActions = append(s.PendingActions, kind)
	sort.Strings(s.PendingActions)
}

func (s *State) removePending(kind string) {
	s.PendingActions = slices.DeleteFunc(s.PendingActions, func(p string) bool { return p == kind })
}

func (s State) clone() State {
	cp := s
	cp.PendingActions = slices.Clone(s.PendingActions)
	return cp
}

func timeField(v any) *time.Time {
	if v == nil {
		return nil
	}
	t, err := entity.ParseTime(v)
	if err != nil {
		return nil
	}
	return &t
}

func boolField(v any) bool {
	b, _ := v.(bool)
	return b
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return entity.FormatTime(*t)
}
