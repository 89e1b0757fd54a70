package service

import (
	"sync"
	"time"

	"terrain/api/model"
)

const subscriberBuffer = 64

// Event is pushed to editors watching a map.
type Event struct {
	Type  string          `json:"type"`
	MapID int             `json:"mapId"`
	Index model.TileIndex `json:"index"`
	Time  time.Time       `json:"time"`
}

const EventTileSaved = "tile_saved"

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block a save.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan Event]struct{})} }

// Subscribe returns the event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
