package service

import (
	"time"

	mycache "terrain/api/cache"
	"terrain/api/model"
	"terrain/api/tile"
)

// MinimapWorld refreshes the height preview of every tile that gets saved
// and tells watching editors about it.
type MinimapWorld struct {
	mapID int
	hub   *Hub
}

func NewMinimapWorld(mapID int, hub *Hub) *MinimapWorld {
	return &MinimapWorld{mapID: mapID, hub: hub}
}

func (w *MinimapWorld) TileSaved(idx model.TileIndex, t *tile.Tile) {
	mycache.SetMinimap(w.mapID, BuildMinimap(t))
	if w.hub != nil {
		w.hub.Publish(Event{Type: EventTileSaved, MapID: w.mapID, Index: idx, Time: time.Now()})
	}
}

// BuildMinimap scales the tile's height grid to 0..255.
func BuildMinimap(t *tile.Tile) *mycache.Minimap {
	lo, hi := t.Heights[0], t.Heights[0]
	for _, h := range t.Heights {
		lo = min(lo, h)
		hi = max(hi, h)
	}
	pixels := make([]uint8, len(t.Heights))
	if span := hi - lo; span > 0 {
		for i, h := range t.Heights {
			pixels[i] = uint8((h - lo) / span * 255)
		}
	}
	return &mycache.Minimap{
		Index:   t.Index,
		Size:    tile.HeightGrid,
		Pixels:  pixels,
		Updated: time.Now(),
	}
}

// Minimap returns the cached preview of a tile, building one from the
// resident tile on a miss.
func (s *Session) Minimap(idx model.TileIndex) (*mycache.Minimap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapID := s.index.MapID()
	if mm, ok := mycache.GetMinimap(mapID, idx); ok {
		return mm, true
	}
	t := s.index.GetTile(idx)
	if t == nil {
		return nil, false
	}
	mm := BuildMinimap(t)
	mycache.SetMinimap(mapID, mm)
	return mm, true
}
