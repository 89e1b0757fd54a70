package service

import (
	"context"
	"errors"
	"sync"

	"terrain/api/mapindex"
	"terrain/api/model"
)

var ErrNoSession = errors.New("no map session open")

// Session serializes every caller onto one MapIndex.
type Session struct {
	mu    sync.Mutex
	index *mapindex.MapIndex
	world *MinimapWorld
	hub   *Hub
}

var (
	currentMu sync.RWMutex
	current   *Session
)

func NewSession(index *mapindex.MapIndex, world *MinimapWorld, hub *Hub) *Session {
	return &Session{index: index, world: world, hub: hub}
}

// Events is the feed of tile saves on this session's map.
func (s *Session) Events() *Hub { return s.hub }

// Install makes s the session served by the HTTP handlers.
func Install(s *Session) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = s
}

func Current() (*Session, error) {
	currentMu.RLock()
	defer currentMu.RUnlock()
	if current == nil {
		return nil, ErrNoSession
	}
	return current, nil
}

type MapInfo struct {
	MapID           int             `json:"mapId"`
	Basename        string          `json:"basename"`
	Cursor          model.TileIndex `json:"cursor"`
	BigAlpha        bool            `json:"bigAlpha"`
	GlobalWMO       bool            `json:"globalWmo"`
	HasAdt          bool            `json:"hasAdt"`
	SortBySizeClass bool            `json:"sortBySizeClass"`
	Changed         bool            `json:"changed"`
	Tiles           int             `json:"tiles"`
	Loaded          int             `json:"loaded"`
	NextUID         uint32          `json:"nextUid"`
}

type TileStatus struct {
	Index    model.TileIndex `json:"index"`
	HasTile  bool            `json:"hasTile"`
	Flags    uint32          `json:"flags"`
	State    string          `json:"state"`
	External bool            `json:"external"`
	Models   int             `json:"models,omitempty"`
	WMOs     int             `json:"wmos,omitempty"`
}

func (s *Session) Info() MapInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.index
	info := MapInfo{
		MapID:           m.MapID(),
		Basename:        m.Basename(),
		Cursor:          m.Cursor(),
		BigAlpha:        m.HasBigAlpha(),
		GlobalWMO:       m.HasAGlobalWMO(),
		HasAdt:          m.HasAdt(),
		SortBySizeClass: m.SortModelsBySizeClass(),
		Changed:         m.Changed(),
		NextUID:         m.HighGUID(),
	}
	for i := 0; i < model.TileCount; i++ {
		idx := model.TileIndexFromLinear(i)
		if m.HasTile(idx) {
			info.Tiles++
		}
		if m.TileLoaded(idx) {
			info.Loaded++
		}
	}
	return info
}

func (s *Session) status(idx model.TileIndex) TileStatus {
	m := s.index
	st := TileStatus{
		Index:    idx,
		HasTile:  m.HasTile(idx),
		Flags:    m.GetFlag(idx),
		State:    m.GetChanged(idx).String(),
		External: m.IsTileExternal(idx),
	}
	if t := m.GetTile(idx); t != nil {
		st.Models = len(t.Models)
		st.WMOs = len(t.WMOs)
	}
	return st
}

// LoadedTiles lists the resident working set in raster order.
func (s *Session) LoadedTiles() []TileStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TileStatus
	for idx := range s.index.LoadedTiles().Seq() {
		out = append(out, s.status(idx))
	}
	return out
}

func (s *Session) TileStatus(idx model.TileIndex) TileStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(idx)
}

// Enter moves the focus and evicts what fell out of range.
func (s *Session) Enter(idx model.TileIndex) ([]model.TileIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter(idx)
}

// enter expects s.mu to be held.
func (s *Session) enter(idx model.TileIndex) ([]model.TileIndex, error) {
	if err := s.index.EnterTile(idx); err != nil {
		return nil, err
	}
	return s.index.UnloadTiles(idx)
}

// EnterPosition enters the tile under a world position and materializes
// every tile within radius of it, as one step.
func (s *Session) EnterPosition(pos model.Vec3, radius float32) ([]model.TileIndex, error) {
	idx := model.TileIndexFromPosition(pos)
	if !idx.Valid() {
		return nil, &model.AddressError{X: idx.X, Z: idx.Z}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted, err := s.enter(idx)
	if err != nil || radius <= 0 {
		return evicted, err
	}
	it := s.index.TilesInRange(pos, radius)
	for range it.Seq() {
	}
	return evicted, it.Err()
}

func (s *Session) LoadTile(idx model.TileIndex) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.index.LoadTile(idx)
	return s.status(idx), err
}

func (s *Session) ReloadTile(idx model.TileIndex) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.index.ReloadTile(idx)
	return s.status(idx), err
}

func (s *Session) UnloadTile(idx model.TileIndex) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.index.UnloadTile(idx)
	return s.status(idx), err
}

func (s *Session) SaveTile(idx model.TileIndex) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.index.SaveTile(idx, s.world)
	return s.status(idx), err
}

func (s *Session) SetChanged(idx model.TileIndex) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.index.SetChanged(idx)
	return s.status(idx), err
}

func (s *Session) SaveChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.SaveChanged(s.world)
}

func (s *Session) SaveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.SaveAll(s.world)
}

func (s *Session) NewGUID(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.NewGUID(ctx)
}

func (s *Session) SearchMaxUID(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.index.SearchMaxUID(ctx)
	return s.index.HighGUID(), err
}

func (s *Session) FixUIDs(ctx context.Context) (*mapindex.FixReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.FixUIDs(ctx, s.world)
}

func (s *Session) ConvertAlphamap(toBig bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.ConvertAlphamap(toBig)
}

func (s *Session) SetFlag(enable bool, pos model.Vec3, flag uint32) (TileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := model.TileIndexFromPosition(pos)
	if err := s.index.SetFlag(enable, pos, flag); err != nil {
		return TileStatus{Index: idx}, err
	}
	return s.status(idx), nil
}
