package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/mqtt"
)

// DBStatser exposes connection pool statistics. *sql.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// BrokerStatser exposes MQTT traffic counters. *mqtt.Client satisfies it.
type BrokerStatser interface {
	Stats() mqtt.Stats
}

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Gardens       GardenMetrics   `json:"gardens"`
	Database      DatabaseMetrics `json:"database"`
	MQTT          *mqtt.Stats     `json:"mqtt,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// GardenMetrics counts gardens and the plants attached to them.
type GardenMetrics struct {
	Total  int `json:"total"`
	Plants int `json:"plants"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, hub, garden, database and broker statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
	}

	gardens, err := s.gardens.Gardens(r.Context(), "")
	if err != nil {
		s.logger.Warn("metrics: listing gardens failed", "error", err)
	}
	metrics.Gardens.Total = len(gardens)
	for _, g := range gardens {
		metrics.Gardens.Plants += len(g.EntityIDs(entity.TypePlant))
	}

	if s.broker != nil {
		st := s.broker.Stats()
		metrics.MQTT = &st
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
