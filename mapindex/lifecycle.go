package mapindex

import (
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"terrain/api/log"
	"terrain/api/model"
	"terrain/api/tile"
)

// EnterTile moves the focus cursor to idx and materializes it together with
// its eight neighbours.
func (m *MapIndex) EnterTile(idx model.TileIndex) error {
	idx.MustValid()
	m.cx, m.cz = idx.X, idx.Z

	var errs error
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			n := model.TileIndex{X: idx.X + dx, Z: idx.Z + dz}
			if !n.Valid() || !m.HasTile(n) {
				continue
			}
			if _, err := m.LoadTile(n); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// LoadTile materializes the tile at idx and returns it. It returns nil
// without error for coordinates that hold no terrain. A declared tile that
// has no file yet comes up blank and dirty.
func (m *MapIndex) LoadTile(idx model.TileIndex) (*tile.Tile, error) {
	s := m.slot(idx)
	if s.tile != nil {
		return s.tile, nil
	}
	if !model.TileHasTerrain(s.flags) {
		return nil, nil
	}
	t, dirty, err := m.materialize(idx, s)
	if err != nil {
		return nil, err
	}
	s.tile = t
	if dirty {
		s.changed = true
		m.changed = true
	}
	return t, nil
}

// materialize reads a tile without touching the slot. dirty is set when the
// result differs from what is on disk.
func (m *MapIndex) materialize(idx model.TileIndex, s *slot) (*tile.Tile, bool, error) {
	if !s.onDisc {
		return tile.New(idx, m.bigAlpha), true, nil
	}
	t, err := m.tiles.Load(m.basename, m.mapID, idx)
	if err != nil {
		return nil, false, err
	}
	return t, t.ConvertAlphamap(m.bigAlpha), nil
}

// ReloadTile drops the in-memory tile, unsaved edits included, and reads it
// again. On a read failure the old tile stays in place.
func (m *MapIndex) ReloadTile(idx model.TileIndex) (*tile.Tile, error) {
	s := m.slot(idx)
	if !model.TileHasTerrain(s.flags) {
		return nil, nil
	}
	t, dirty, err := m.materialize(idx, s)
	if err != nil {
		return nil, err
	}
	s.tile = t
	s.changed = dirty
	if dirty {
		m.changed = true
	}
	return t, nil
}

// UnloadTile releases the tile at idx. A dirty tile is saved first; if that
// fails it stays loaded and an *EvictionConflictError is returned.
func (m *MapIndex) UnloadTile(idx model.TileIndex) error {
	return m.unload(idx, m.world)
}

func (m *MapIndex) unload(idx model.TileIndex, w World) error {
	s := m.slot(idx)
	if s.tile == nil {
		return nil
	}
	if s.changed {
		if err := m.saveTile(idx, s, w); err != nil {
			return &EvictionConflictError{Index: idx, Err: err}
		}
	}
	s.tile = nil
	s.changed = false
	return nil
}

// UnloadTiles evicts every loaded tile farther than the unload distance
// (Chebyshev) from idx. idx itself is always kept. Calls arriving within the
// unload interval of the previous pass do nothing.
func (m *MapIndex) UnloadTiles(idx model.TileIndex) ([]model.TileIndex, error) {
	idx.MustValid()
	now := m.now()
	if m.unloadInterval > 0 && !m.lastUnload.IsZero() && now.Sub(m.lastUnload) < m.unloadInterval {
		return nil, nil
	}
	m.lastUnload = now

	var (
		evicted []model.TileIndex
		errs    error
	)
	for i := range m.slots {
		if m.slots[i].tile == nil {
			continue
		}
		cur := model.TileIndexFromLinear(i)
		if cur == idx || cur.Chebyshev(idx) <= m.unloadDistance {
			continue
		}
		if err := m.UnloadTile(cur); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		evicted = append(evicted, cur)
	}
	if len(evicted) > 0 {
		log.Debugf("map %d: evicted %d tiles around %s", m.mapID, len(evicted), idx)
	}
	return evicted, errs
}

// SetChanged marks the tile at idx dirty, loading it first if needed.
// Coordinates without terrain are ignored.
func (m *MapIndex) SetChanged(idx model.TileIndex) error {
	t, err := m.LoadTile(idx)
	if err != nil || t == nil {
		return err
	}
	m.slot(idx).changed = true
	m.changed = true
	return nil
}

// SetTileChanged marks t dirty. t must still be the tile owned by its slot.
func (m *MapIndex) SetTileChanged(t *tile.Tile) error {
	if t == nil || !t.Index.Valid() {
		return ErrStaleTile
	}
	s := m.slot(t.Index)
	if s.tile != t {
		return ErrStaleTile
	}
	s.changed = true
	m.changed = true
	return nil
}

// UnsetChanged clears the tile's dirty flag. The map level flag is left alone.
func (m *MapIndex) UnsetChanged(idx model.TileIndex) {
	m.slot(idx).changed = false
}

func (m *MapIndex) GetChanged(idx model.TileIndex) model.ChangeState {
	s := m.slot(idx)
	switch {
	case s.tile == nil:
		return model.NotLoaded
	case s.changed:
		return model.LoadedDirty
	default:
		return model.LoadedClean
	}
}

// SaveTile writes the tile at idx if it is loaded. w may be nil, in which
// case the index's own World is notified.
func (m *MapIndex) SaveTile(idx model.TileIndex, w World) error {
	s := m.slot(idx)
	if s.tile == nil {
		return nil
	}
	return m.saveTile(idx, s, m.sink(w))
}

func (m *MapIndex) sink(w World) World {
	if w != nil {
		return w
	}
	return m.world
}

func (m *MapIndex) saveTile(idx model.TileIndex, s *slot, w World) error {
	if err := m.tiles.Save(s.tile, m.basename, m.mapID, idx); err != nil {
		return err
	}
	s.changed = false
	s.onDisc = true
	if w != nil {
		w.TileSaved(idx, s.tile)
	}
	return nil
}

// SaveChanged writes every dirty tile, the header if it changed and the UID
// record. Failures do not stop the pass; the map stays dirty until a pass
// completes cleanly.
func (m *MapIndex) SaveChanged(w World) error {
	return m.savePass(m.sink(w), false)
}

// SaveAll writes every loaded tile regardless of state, then the header and
// the UID record.
func (m *MapIndex) SaveAll(w World) error {
	return m.savePass(m.sink(w), true)
}

func (m *MapIndex) savePass(w World, all bool) error {
	pass := uuid.NewString()
	var (
		failed []model.TileIndex
		errs   error
		saved  int
	)
	for i := range m.slots {
		s := &m.slots[i]
		if s.tile == nil || (!all && !s.changed) {
			continue
		}
		idx := model.TileIndexFromLinear(i)
		if err := m.saveTile(idx, s, w); err != nil {
			log.Errorf("save pass %s: tile %s: %v", pass, idx, err)
			failed = append(failed, idx)
			errs = multierr.Append(errs, err)
			continue
		}
		saved++
	}
	if all || m.headerChanged {
		errs = multierr.Append(errs, m.Save())
	}
	errs = multierr.Append(errs, m.SaveMaxUID())

	if errs != nil {
		log.Warnf("save pass %s on map %d: %d saved, %d failed", pass, m.mapID, saved, len(failed))
		return &SaveError{Failed: failed, Err: errs}
	}
	m.changed = false
	log.Infof("save pass %s on map %d: %d tiles saved", pass, m.mapID, saved)
	return nil
}

// ConvertAlphamap switches every tile of the map to the requested alpha
// depth. Loaded tiles are converted in place and marked dirty; tiles on disk
// are rewritten directly. The map mode flips even when some tiles fail: a
// tile left in the old mode on disk is converted when it is next loaded, and
// one whose rewrite failed stays loaded and dirty. The returned error lists
// those tiles.
func (m *MapIndex) ConvertAlphamap(toBig bool) error {
	if toBig == m.bigAlpha {
		return nil
	}
	var (
		errs      error
		converted int
	)
	for i := range m.slots {
		s := &m.slots[i]
		if !model.TileHasTerrain(s.flags) {
			continue
		}
		idx := model.TileIndexFromLinear(i)
		if s.tile != nil {
			s.tile.ConvertAlphamap(toBig)
			s.changed = true
			converted++
			continue
		}
		if !s.onDisc {
			continue
		}
		t, err := m.tiles.Load(m.basename, m.mapID, idx)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !t.ConvertAlphamap(toBig) {
			continue
		}
		s.tile = t
		if err := m.saveTile(idx, s, m.world); err != nil {
			s.changed = true
			errs = multierr.Append(errs, err)
			continue
		}
		s.tile = nil
		converted++
	}
	m.bigAlpha = toBig
	m.headerChanged = true
	m.changed = true
	log.Infof("map %d: alphamap converted to big=%v on %d tiles", m.mapID, toBig, converted)
	return errs
}
