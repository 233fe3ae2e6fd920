package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/influxdb"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// fakeInflux answers pings and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu     sync.Mutex
	lines  []string
	status int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{status: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			status := f.status
			f.mu.Unlock()
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "smartplant-dev-token",
		Org:           "smartplant",
		Bucket:        "plants",
		BatchSize:     100,
		FlushInterval: 60,
	}
}

// waitForLines polls until n lines have been written.
func waitForLines(t *testing.T, f *fakeInflux, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.written(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, got %v", n, f.written())
	return nil
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:59999"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_StopsWrites(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes after Close are dropped, not panics.
	client.RecordMeasurement("p-1", entity.Measurement{Type: "humidity", Value: 1, Timestamp: time.Now()})
	client.Flush()
}

// =============================================================================
// Recorder Tests
// =============================================================================

func TestRecordMeasurement(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client.RecordMeasurement("p-1", entity.Measurement{Type: "humidity", Value: 27.5, Timestamp: at})
	client.Flush()

	lines := waitForLines(t, f, 1)
	want := "plant_measurement,plant_id=p-1,type=humidity value=27.5 "
	if !strings.HasPrefix(lines[0], want) {
		t.Errorf("line = %q, want prefix %q", lines[0], want)
	}
	if !strings.HasSuffix(lines[0], " 1748779200000000000") {
		t.Errorf("line = %q, want the reading's timestamp", lines[0])
	}
}

func TestRecordAction(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.RecordAction("p-1", plantcare.ActionWater, 20000, time.Now())
	client.Flush()

	lines := waitForLines(t, f, 1)
	want := "plant_action,action=water,plant_id=p-1 duration_ms=20000i "
	if !strings.HasPrefix(lines[0], want) {
		t.Errorf("line = %q, want prefix %q", lines[0], want)
	}
}

func TestNilClientIsNoop(t *testing.T) {
	var client *influxdb.Client

	client.RecordMeasurement("p-1", entity.Measurement{Type: "light", Value: 100})
	client.RecordAction("p-1", plantcare.ActionNotifyLight, 0, time.Now())
	client.Flush()
	if client.IsConnected() {
		t.Error("nil client reports connected")
	}
	if client.WriteFailures() != 0 {
		t.Error("nil client reports write failures")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestSetOnError(t *testing.T) {
	f := newFakeInflux(t)
	f.mu.Lock()
	f.status = http.StatusBadRequest
	f.mu.Unlock()

	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.RecordMeasurement("p-1", entity.Measurement{Type: "humidity", Value: 1, Timestamp: time.Now()})
	client.Flush()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("OnError received nil error")
		}
		if client.WriteFailures() == 0 {
			t.Error("WriteFailures() = 0 after a rejected write")
		}
	case <-time.After(3 * time.Second):
		t.Error("OnError was not called for a rejected write")
	}
}
