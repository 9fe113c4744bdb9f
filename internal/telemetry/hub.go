package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MPZ-00/m5squared/internal/drive"
)

// Event types emitted by the hub.
const (
	EventState     = "state"
	EventTelemetry = "telemetry"
	EventFault     = "fault"
	EventHeartbeat = "heartbeat"
)

// keepaliveInterval paces SSE heartbeat events so idle proxies do not
// drop the stream.
const keepaliveInterval = 15 * time.Second

// Event is one hub event with a monotonic ID for resume support.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// client is one SSE subscriber.
type client struct {
	id     string
	writer http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	once   sync.Once
	mu     sync.Mutex // protects writer access
}

// Hub distributes events to SSE clients and channel subscribers.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	channels map[int]chan Event

	buffer *ringBuffer
	nextID atomic.Int64
	nextCh int

	keepalive *time.Ticker
	stopKeep  chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewHub creates a hub buffering the last bufferSize events.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		clients:  make(map[string]*client),
		channels: make(map[int]chan Event),
		buffer:   newRingBuffer(bufferSize),
		done:     make(chan struct{}),
	}
}

// PublishState emits a state transition event.
func (h *Hub) PublishState(oldState, newState drive.SupervisorState) {
	h.Publish(Event{
		Type: EventState,
		Data: map[string]any{
			"from": oldState.String(),
			"to":   newState.String(),
			"ts":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// PublishTelemetry emits a vehicle telemetry snapshot.
func (h *Hub) PublishTelemetry(state drive.VehicleState) {
	data := map[string]any{
		"connected": state.Connected,
		"ts":        state.Timestamp.UTC().Format(time.RFC3339),
	}
	if state.BatteryLeft != nil {
		data["batteryLeft"] = *state.BatteryLeft
	}
	if state.BatteryRight != nil {
		data["batteryRight"] = *state.BatteryRight
	}
	if min, ok := state.BatteryMin(); ok {
		data["batteryMin"] = min
	}
	if state.SpeedKmh != nil {
		data["speedKmh"] = *state.SpeedKmh
	}
	if state.DistanceKm != nil {
		data["distanceKm"] = *state.DistanceKm
	}
	if state.HasErrors() {
		data["errors"] = state.Errors
	}
	h.Publish(Event{Type: EventTelemetry, Data: data})
}

// PublishFault emits a fault event.
func (h *Hub) PublishFault(reason string) {
	h.Publish(Event{
		Type: EventFault,
		Data: map[string]any{
			"reason": reason,
			"ts":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Publish assigns an event ID, buffers the event, and fans it out to
// every subscriber. Slow subscribers drop events rather than block the
// publisher.
func (h *Hub) Publish(event Event) {
	if event.ID == 0 {
		event.ID = h.nextID.Add(1)
	}
	h.buffer.add(event)

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	channels := make([]chan Event, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case <-h.done:
			return
		case c.events <- event:
		default:
		}
	}
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe serves one SSE client, replaying buffered events when the
// request carries a Last-Event-ID header. Blocks until the client or
// the hub goes away.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     fmt.Sprintf("client_%d", time.Now().UnixNano()),
		writer: w,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, 100),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	if len(h.clients) == 1 && h.keepalive == nil {
		h.startKeepalive()
	}
	h.mu.Unlock()

	var lastID int64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastID = id
		}
	}
	if lastID > 0 {
		for _, event := range h.buffer.eventsAfter(lastID) {
			if err := h.writeEvent(c, event); err != nil {
				h.unregister(c.id)
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.serveClient(c)
	return nil
}

// SubscribeChan returns a buffered event channel and a cancel function.
// Used by the websocket fanout and the MQTT bridge.
func (h *Hub) SubscribeChan() (<-chan Event, func()) {
	ch := make(chan Event, 100)

	h.mu.Lock()
	id := h.nextCh
	h.nextCh++
	h.channels[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.channels[id]; ok {
			delete(h.channels, id)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// serveClient delivers events until the client disconnects.
func (h *Hub) serveClient(c *client) {
	defer func() {
		c.once.Do(func() { close(c.events) })
		h.unregister(c.id)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-h.done:
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if err := h.writeEvent(c, event); err != nil {
				return
			}
		}
	}
}

// writeEvent formats one event as SSE and flushes it.
func (h *Hub) writeEvent(c *client, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\n", event.Type); err != nil {
		return err
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[clientID]; ok {
		c.cancel()
		delete(h.clients, clientID)
		if len(h.clients) == 0 && h.keepalive != nil {
			h.keepalive.Stop()
			h.keepalive = nil
			close(h.stopKeep)
			h.stopKeep = nil
		}
	}
}

// startKeepalive begins the SSE heartbeat ticker. Caller holds h.mu.
func (h *Hub) startKeepalive() {
	h.keepalive = time.NewTicker(keepaliveInterval)
	h.stopKeep = make(chan struct{})

	ticker := h.keepalive
	stop := h.stopKeep

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop shuts the hub down and disconnects every subscriber.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	for _, c := range h.clients {
		c.cancel()
		c.once.Do(func() { close(c.events) })
	}
	h.clients = make(map[string]*client)
	for id, ch := range h.channels {
		delete(h.channels, id)
		close(ch)
	}
	if h.keepalive != nil {
		h.keepalive.Stop()
		h.keepalive = nil
	}
	if h.stopKeep != nil {
		close(h.stopKeep)
		h.stopKeep = nil
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ringBuffer retains the most recent events for replay.
type ringBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

func (b *ringBuffer) add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

func (b *ringBuffer) eventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

func (b *ringBuffer) size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
