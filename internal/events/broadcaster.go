package events

import (
	"sync"

	"strix/internal/logging"
)

const defaultMaxHistory = 1000

// Broadcaster fans events out to per-session subscriber channels. Publish
// never blocks: a full subscriber buffer drops the event, except for
// critical events which evict the oldest buffered event to get through.
// Recent events are kept per session so late subscribers can replay.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string][]chan Event

	historyMu  sync.RWMutex
	history    map[string][]Event
	maxHistory int

	metricsMu    sync.Mutex
	sentCount    int64
	droppedCount int64
	onDrop       func()

	logger logging.Logger
}

// NewBroadcaster creates a broadcaster keeping up to 1000 events per
// session for replay.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:    make(map[string][]chan Event),
		history:    make(map[string][]Event),
		maxHistory: defaultMaxHistory,
		logger:     logging.NewComponentLogger("event-broadcaster"),
	}
}

// Publish delivers the event to every subscriber of its session. Delivery
// is fire-and-forget; the caller is never blocked or failed.
func (b *Broadcaster) Publish(event Event) {
	if event.SessionID == "" {
		return
	}
	b.storeHistory(event)

	b.mu.RLock()
	clients := b.clients[event.SessionID]
	for i, ch := range clients {
		select {
		case ch <- event:
			b.countSent()
		default:
			if b.deliverCritical(ch, event) {
				continue
			}
			b.logger.Warn("Subscriber buffer full for session %s, dropping %s (client %d/%d)",
				event.SessionID, event.Type, i+1, len(clients))
			b.countDropped()
		}
	}
	b.mu.RUnlock()
}

// deliverCritical retries a saturated send for critical events, evicting
// the oldest buffered event to make room.
func (b *Broadcaster) deliverCritical(ch chan Event, event Event) bool {
	if !event.Critical() {
		return false
	}

	// The consumer may have drained the buffer since the first attempt.
	select {
	case ch <- event:
		b.countSent()
		return true
	default:
	}

	select {
	case <-ch:
	default:
		return false
	}

	select {
	case ch <- event:
		b.logger.Warn("Dropped oldest buffered event for session %s to deliver critical %s",
			event.SessionID, event.Type)
		b.countSent()
		return true
	default:
		return false
	}
}

// Subscribe registers a channel for a session's events and replays the
// stored history into the returned slice so the caller can send it first.
func (b *Broadcaster) Subscribe(sessionID string, ch chan Event) []Event {
	b.mu.Lock()
	b.clients[sessionID] = append(b.clients[sessionID], ch)
	total := len(b.clients[sessionID])
	b.mu.Unlock()

	b.logger.Info("Subscriber registered for session %s (total: %d)", sessionID, total)
	return b.History(sessionID)
}

// Unsubscribe removes and closes a previously registered channel.
func (b *Broadcaster) Unsubscribe(sessionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients := b.clients[sessionID]
	for i, client := range clients {
		if client == ch {
			b.clients[sessionID] = append(clients[:i], clients[i+1:]...)
			close(ch)
			if len(b.clients[sessionID]) == 0 {
				delete(b.clients, sessionID)
			}
			b.logger.Info("Subscriber removed from session %s (remaining: %d)", sessionID, len(b.clients[sessionID]))
			return
		}
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

// History returns a copy of the stored events for a session, oldest first.
func (b *Broadcaster) History(sessionID string) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	stored := b.history[sessionID]
	if len(stored) == 0 {
		return nil
	}
	out := make([]Event, len(stored))
	copy(out, stored)
	return out
}

// ClearHistory drops the stored events for a session.
func (b *Broadcaster) ClearHistory(sessionID string) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	delete(b.history, sessionID)
}

func (b *Broadcaster) storeHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	stored := append(b.history[event.SessionID], event)
	if len(stored) > b.maxHistory {
		stored = stored[len(stored)-b.maxHistory:]
	}
	b.history[event.SessionID] = stored
}

func (b *Broadcaster) countSent() {
	b.metricsMu.Lock()
	b.sentCount++
	b.metricsMu.Unlock()
}

func (b *Broadcaster) countDropped() {
	b.metricsMu.Lock()
	b.droppedCount++
	hook := b.onDrop
	b.metricsMu.Unlock()
	if hook != nil {
		hook()
	}
}

// SetDropHook registers a callback invoked once per dropped event.
func (b *Broadcaster) SetDropHook(fn func()) {
	b.metricsMu.Lock()
	b.onDrop = fn
	b.metricsMu.Unlock()
}

// Stats reports delivered and dropped event counts.
func (b *Broadcaster) Stats() (sent, dropped int64) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	return b.sentCount, b.droppedCount
}
