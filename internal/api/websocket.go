package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/logging"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// EventSnapshot is the first frame sent for each watched plant: its
// latest reading of every kind.
const EventSnapshot = "plant.snapshot"

const watcherQueueSize = 256

var errUnknownEvent = errors.New("unknown event")

// liveEvents are the processor events a client can filter on.
var liveEvents = map[string]struct{}{
	plantcare.ChannelAction:      {},
	plantcare.ChannelMeasurement: {},
	plantcare.ChannelError:       {},
}

// PlantEvent is one frame pushed to a WebSocket client.
type PlantEvent struct {
	Event   string `json:"event"`
	PlantID string `json:"plant_id,omitempty"`
	At      string `json:"at"`
	Data    any    `json:"data"`
}

// watchFilter selects what a client receives. A nil set matches all.
type watchFilter struct {
	plants map[string]struct{}
	events map[string]struct{}
}

func (f watchFilter) matches(event, plantID string) bool {
	if f.events != nil {
		if _, ok := f.events[event]; !ok {
			return false
		}
	}
	if f.plants != nil {
		if _, ok := f.plants[plantID]; !ok {
			return false
		}
	}
	return true
}

// Hub pushes plant events to connected WebSocket clients. It satisfies
// plantcare.EventSink.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	dropped  atomic.Uint64
}

// watcher is one connected client. queue is never closed; the write
// loop stops when done is closed.
type watcher struct {
	conn   *websocket.Conn
	filter watchFilter
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWatcher(conn *websocket.Conn, filter watchFilter) *watcher {
	return &watcher{
		conn:   conn,
		filter: filter,
		queue:  make(chan []byte, watcherQueueSize),
		done:   make(chan struct{}),
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// offer queues a frame and reports false when the queue is full.
func (w *watcher) offer(frame []byte) bool {
	select {
	case <-w.done:
		return true
	default:
	}
	select {
	case w.queue <- frame:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // corsMiddleware has already vetted the origin
	},
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		watchers: make(map[*watcher]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		w.stop()
		if w.conn != nil {
			w.conn.Close()
		}
		delete(h.watchers, w)
	}
}

func (h *Hub) add(w *watcher) {
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	n := len(h.watchers)
	h.mu.Unlock()
	h.logger.Debug("plant watcher connected", "clients", n)
}

func (h *Hub) remove(w *watcher) {
	w.stop()
	h.mu.Lock()
	delete(h.watchers, w)
	n := len(h.watchers)
	h.mu.Unlock()
	h.logger.Debug("plant watcher disconnected", "clients", n)
}

// Broadcast pushes a processor event to every client whose filter
// matches it. Full client queues drop the frame.
func (h *Hub) Broadcast(event string, payload any) {
	plantID := plantIDOf(payload)
	frame, err := h.frame(event, plantID, payload)
	if err != nil {
		h.logger.Error("encoding plant event failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for w := range h.watchers {
		if !w.filter.matches(event, plantID) {
			continue
		}
		if !w.offer(frame) {
			h.dropped.Add(1)
			h.logger.Warn("plant watcher too slow, event dropped", "event", event, "plant_id", plantID)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Dropped returns how many frames were dropped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) frame(event, plantID string, data any) ([]byte, error) {
	return json.Marshal(PlantEvent{
		Event:   event,
		PlantID: plantID,
		At:      h.now().UTC().Format(time.RFC3339),
		Data:    data,
	})
}

func plantIDOf(payload any) string {
	if m, ok := payload.(map[string]any); ok {
		id, _ := m["plant_id"].(string)
		return id
	}
	return ""
}

// handleWebSocket streams plant events. Query parameters narrow the
// stream: plant_id and garden_id (repeatable) pick plants, event picks
// event kinds. Each watched plant first gets a snapshot frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter, plants, err := s.watchFilter(r.Context(), r.URL.Query())
	if errors.Is(err, errUnknownEvent) {
		writeBadRequest(w, err.Error())
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	wt := newWatcher(conn, filter)
	for _, p := range plants {
		frame, err := s.hub.frame(EventSnapshot, p.ID, latestReadings(p))
		if err == nil {
			wt.offer(frame)
		}
	}
	s.hub.add(wt)

	go s.hub.writeLoop(wt)
	go s.hub.readLoop(wt)
}

// watchFilter builds the client filter and loads the watched plants.
func (s *Server) watchFilter(ctx context.Context, q url.Values) (watchFilter, []*entity.Entity, error) {
	filter := watchFilter{}
	for _, ev := range q["event"] {
		if _, ok := liveEvents[ev]; !ok {
			return filter, nil, fmt.Errorf("%w: %q", errUnknownEvent, ev)
		}
		if filter.events == nil {
			filter.events = make(map[string]struct{})
		}
		filter.events[ev] = struct{}{}
	}

	if len(q["plant_id"])+len(q["garden_id"]) == 0 {
		return filter, nil, nil
	}

	// An empty garden still narrows the stream, to nothing.
	filter.plants = make(map[string]struct{})
	var plants []*entity.Entity
	watch := func(p *entity.Entity) {
		if _, dup := filter.plants[p.ID]; !dup {
			filter.plants[p.ID] = struct{}{}
			plants = append(plants, p)
		}
	}
	for _, id := range q["plant_id"] {
		p, err := s.gardens.Plant(ctx, id)
		if err != nil {
			return filter, nil, err
		}
		watch(p)
	}
	for _, id := range q["garden_id"] {
		ps, err := s.gardens.Plants(ctx, id)
		if err != nil {
			return filter, nil, err
		}
		for _, p := range ps {
			watch(p)
		}
	}
	return filter, plants, nil
}

func latestReadings(p *entity.Entity) map[string]entity.Measurement {
	latest := make(map[string]entity.Measurement)
	for _, m := range p.Measurements() {
		if cur, ok := latest[m.Type]; !ok || !m.Timestamp.Before(cur.Timestamp) {
			latest[m.Type] = m
		}
	}
	return latest
}

// readLoop discards client frames and keeps the read deadline moving.
// It returns when the connection fails, which unregisters the client.
func (h *Hub) readLoop(w *watcher) {
	defer func() {
		h.remove(w)
		w.conn.Close()
	}()

	wait := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	extend := func() error {
		return w.conn.SetReadDeadline(time.Now().Add(wait))
	}
	w.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	if err := extend(); err != nil {
		return
	}
	w.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := w.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("plant watcher read failed", "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
	}
}

// writeLoop drains the queue and pings on the configured interval.
func (h *Hub) writeLoop(w *watcher) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	timeout := time.Duration(h.cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		if err := w.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		return w.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-w.done:
			//nolint:errcheck // connection is closing anyway
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case frame := <-w.queue:
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ plantcare.EventSink = (*Hub)(nil)
