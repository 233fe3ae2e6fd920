package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
)

// testConfig returns a configuration for a local Mosquitto at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "smartplant-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Skipf("no MQTT broker on 127.0.0.1:1883: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// disconnected returns a client that never dialed.
func disconnected() *Client {
	return newClient(testConfig())
}

type mockLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *mockLogger) Info(string, ...any) {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PlantMeasurement", topics.PlantMeasurement("p-1"), "smartplant/p-1/measurement"},
		{"PlantErrors", topics.PlantErrors("p-1"), "smartplant/p-1/errors"},
		{"PlantCommands", topics.PlantCommands("p-1"), "smartplant/p-1/commands"},
		{"SystemStatus", topics.SystemStatus(), "smartplant/system/status"},
		{"AllMeasurements", topics.AllMeasurements(), "smartplant/+/measurement"},
		{"AllErrors", topics.AllErrors(), "smartplant/+/errors"},
		{"AllTopics", topics.AllTopics(), "smartplant/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestPlantID(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"smartplant/p-1/measurement", "p-1", true},
		{"smartplant/abc/errors", "abc", true},
		{"smartplant/system/status", "", false},
		{"smartplant//measurement", "", false},
		{"smartplant/p-1", "", false},
		{"smartplant/p-1/measurement/extra", "", false},
		{"other/p-1/measurement", "", false},
		{"smartplant/+/measurement", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := PlantID(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("PlantID(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "plant"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Fatalf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "smartplant-test" {
		t.Errorf("ClientID = %q, want smartplant-test", opts.ClientID)
	}
	if opts.Username != "plant" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want plant/secret", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Errorf("AutoReconnect = %v, CleanSession = %v, want both true", opts.AutoReconnect, opts.CleanSession)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %q, want ssl://127.0.0.1:8883", got)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "smartplant-test")

	if !opts.WillEnabled || opts.WillTopic != "smartplant/system/status" {
		t.Fatalf("will = (%v, %q), want enabled on smartplant/system/status", opts.WillEnabled, opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained = %v qos = %d, want true/1", opts.WillRetained, opts.WillQos)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != statusOffline || p.Reason != reasonUnexpected || p.ClientID != "smartplant-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload_OmitsEmptyReason(t *testing.T) {
	payload := string(buildStatusPayload("c1", statusOnline, ""))
	if strings.Contains(payload, "reason") {
		t.Errorf("online payload %s should not carry a reason", payload)
	}
	if !strings.Contains(payload, `"status":"online"`) {
		t.Errorf("payload %s missing status", payload)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if disconnected().IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
}

func TestPublishValidation(t *testing.T) {
	client := disconnected()
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "smartplant/p/commands", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "smartplant/p/commands", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "smartplant/p/commands", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	err := disconnected().PublishJSON("smartplant/p/commands", make(chan int), 1)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := disconnected()
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 0, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("a", 0, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", client.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	client := disconnected()
	if err := client.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Unsubscribe("a"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	if err := disconnected().HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := disconnected().HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDispatch_RecoversPanic(t *testing.T) {
	client := disconnected()
	logger := &mockLogger{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { panic("boom") }, "smartplant/p/measurement", nil)
	client.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "smartplant/p/measurement", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1 for the panic", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1 for the handler error", len(logger.warns))
	}
}

func TestDispatch_ZeroValueClient(t *testing.T) {
	var c Client
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	if c.Stats().HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", c.Stats().HandlerErrors)
	}
}

func TestStats_CountsTraffic(t *testing.T) {
	client := disconnected()
	ok := func(string, []byte) error { return nil }
	bad := func(string, []byte) error { return errors.New("bad reading") }

	for _, h := range []MessageHandler{ok, ok, bad} {
		client.dispatch(h, Topics{}.PlantMeasurement("p-1"), []byte(`{}`))
	}
	client.track(Topics{}.AllMeasurements(), 0, ok)

	got := client.Stats()
	want := Stats{Subscriptions: 1, Received: 3, HandlerErrors: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestHandleDisconnect_Callback(t *testing.T) {
	client := disconnected()
	client.up.Store(true)
	var got error
	client.SetOnDisconnect(func(err error) { got = err })

	want := errors.New("network down")
	client.handleDisconnect(want)

	if got != want {
		t.Errorf("OnDisconnect received %v, want %v", got, want)
	}
	if client.up.Load() {
		t.Error("connected still true after handleDisconnect")
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectOrSkip(t, "smartplant-test-connect")
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999
	cfg.Broker.ClientID = "smartplant-test-invalid"

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t, "smartplant-test-close")
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	client := connectOrSkip(t, "smartplant-test-sub")
	topic := Topics{}.AllMeasurements()

	if err := client.Subscribe(topic, 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe")
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub := connectOrSkip(t, "smartplant-test-pub")
	sub := connectOrSkip(t, "smartplant-test-rsub")

	received := make(chan string, 4)
	err := sub.Subscribe(Topics{}.AllMeasurements(), 1, func(topic string, payload []byte) error {
		id, _ := PlantID(topic)
		received <- id + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(Topics{}.PlantMeasurement("p-rt"), map[string]any{"type": "humidity"}, 1); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if want := `p-rt {"type":"humidity"}`; got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}
