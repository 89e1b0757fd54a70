package mapindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"terrain/api/log"
	"terrain/api/model"
	"terrain/api/tile"
	"terrain/api/uid"
)

// TileIO reads and writes the binary tile records.
type TileIO interface {
	Exists(basename string, idx model.TileIndex) bool
	ModTime(basename string, idx model.TileIndex) (time.Time, error)
	Load(basename string, mapID int, idx model.TileIndex) (*tile.Tile, error)
	Save(t *tile.Tile, basename string, mapID int, idx model.TileIndex) error
	HighestUID(basename string, mapID int, idx model.TileIndex) (uint32, error)
}

// HeaderIO reads and writes the per-map header.
type HeaderIO interface {
	Read(basename string) (*model.MapHeader, error)
	Write(basename string, h *model.MapHeader) error
}

// World is notified of every tile written to disk.
type World interface {
	TileSaved(idx model.TileIndex, t *tile.Tile)
}

const (
	DefaultUnloadDistance = 5
	DefaultUnloadInterval = 5 * time.Second
)

type Options struct {
	Tiles     TileIO
	Header    HeaderIO
	Allocator uid.Allocator
	// World receives save callbacks for saves the index starts on its own
	// (eviction, alphamap conversion, uid repair).
	World World

	UnloadDistance int
	// UnloadInterval throttles UnloadTiles. Zero disables throttling.
	UnloadInterval time.Duration
	Now            func() time.Time
}

type slot struct {
	flags   uint32
	tile    *tile.Tile
	onDisc  bool
	changed bool
}

// MapIndex owns the 64x64 tile slots of one open map. It is not safe for
// concurrent use.
type MapIndex struct {
	basename string
	mapID    int

	tiles TileIO
	hdr   HeaderIO
	alloc uid.Allocator
	world World

	header          model.MapHeader
	bigAlpha        bool
	hasGlobalWMO    bool
	hasAdt          bool
	sortBySizeClass bool

	cx, cz        int
	changed       bool
	headerChanged bool

	unloadDistance int
	unloadInterval time.Duration
	lastUnload     time.Time
	now            func() time.Time

	slots [model.TileCount]slot
}

// New opens the map at basename. Failing to read the header is fatal; a
// missing or stale UID record only triggers a full scan.
func New(ctx context.Context, basename string, mapID int, opts Options) (*MapIndex, error) {
	if opts.Tiles == nil || opts.Header == nil {
		return nil, errors.New("mapindex: tile and header collaborators are required")
	}
	h, err := opts.Header.Read(basename)
	if err != nil {
		return nil, fmt.Errorf("open map %d at %s: %w", mapID, basename, err)
	}

	m := &MapIndex{
		basename:        basename,
		mapID:           mapID,
		tiles:           opts.Tiles,
		hdr:             opts.Header,
		alloc:           opts.Allocator,
		world:           opts.World,
		header:          *h,
		bigAlpha:        h.Flags&model.HeaderBigAlpha != 0,
		hasGlobalWMO:    h.Flags&model.HeaderGlobalWMO != 0,
		sortBySizeClass: h.Flags&model.HeaderSortBySizeClass != 0,
		hasAdt:          h.HasAnyTile(),
		unloadDistance:  opts.UnloadDistance,
		unloadInterval:  opts.UnloadInterval,
		now:             opts.Now,
	}
	if m.alloc == nil {
		m.alloc = uid.NewLocal()
	}
	if m.unloadDistance <= 0 {
		m.unloadDistance = DefaultUnloadDistance
	}
	if m.now == nil {
		m.now = time.Now
	}

	var existing int
	for i := range m.slots {
		idx := model.TileIndexFromLinear(i)
		s := &m.slots[i]
		s.flags = h.TileFlags(idx)
		s.onDisc = m.tiles.Exists(basename, idx)
		if model.TileHasTerrain(s.flags) {
			existing++
		}
	}
	log.Infof("map %d opened from %s: %d tiles, big_alpha=%v global_wmo=%v", mapID, basename, existing, m.bigAlpha, m.hasGlobalWMO)

	if err := m.LoadMaxUID(ctx); err != nil {
		var rec *UIDRecoveryError
		if !errors.As(err, &rec) {
			return nil, err
		}
		log.Warnf("map %d: %v, scanning tiles for the highest uid", mapID, err)
		if err := m.SearchMaxUID(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MapIndex) slot(idx model.TileIndex) *slot {
	idx.MustValid()
	return &m.slots[idx.Linear()]
}

func (m *MapIndex) MapID() int       { return m.mapID }
func (m *MapIndex) Basename() string { return m.basename }

// Cursor is the focus tile last passed to EnterTile.
func (m *MapIndex) Cursor() model.TileIndex { return model.TileIndex{X: m.cx, Z: m.cz} }

// HasTile reports whether the coordinate holds terrain, loaded or not.
func (m *MapIndex) HasTile(idx model.TileIndex) bool {
	return model.TileHasTerrain(m.slot(idx).flags)
}

func (m *MapIndex) TileLoaded(idx model.TileIndex) bool {
	return m.slot(idx).tile != nil
}

// GetTile returns the materialized tile or nil. It never loads.
func (m *MapIndex) GetTile(idx model.TileIndex) *tile.Tile {
	return m.slot(idx).tile
}

func (m *MapIndex) GetFlag(idx model.TileIndex) uint32 {
	return m.slot(idx).flags
}

// SetFlag toggles one existence bit of the tile under a world position.
// A tile that stops being terrain is unloaded first.
func (m *MapIndex) SetFlag(enable bool, pos model.Vec3, flag uint32) error {
	idx := model.TileIndexFromPosition(pos)
	if !idx.Valid() {
		return &model.AddressError{X: idx.X, Z: idx.Z}
	}
	s := m.slot(idx)
	flags := s.flags &^ flag
	if enable {
		flags = s.flags | flag
	}
	if flags == s.flags {
		return nil
	}
	if s.tile != nil && !model.TileHasTerrain(flags) {
		if err := m.UnloadTile(idx); err != nil {
			return err
		}
	}
	if !model.TileHasTerrain(s.flags) && model.TileHasTerrain(flags) {
		s.onDisc = m.tiles.Exists(m.basename, idx)
	}
	s.flags = flags
	m.header.SetTileFlags(idx, flags)
	m.headerChanged = true
	m.changed = true
	if model.TileHasTerrain(flags) {
		m.hasAdt = true
	}
	return nil
}

// GetTileAbove returns the loaded neighbour at z-1, nil at the grid edge.
func (m *MapIndex) GetTileAbove(t *tile.Tile) *tile.Tile {
	if t == nil {
		return nil
	}
	above := t.Index.Above()
	if !above.Valid() {
		return nil
	}
	return m.GetTile(above)
}

// GetTileLeft returns the loaded neighbour at x-1, nil at the grid edge.
func (m *MapIndex) GetTileLeft(t *tile.Tile) *tile.Tile {
	if t == nil {
		return nil
	}
	left := t.Index.Left()
	if !left.Valid() {
		return nil
	}
	return m.GetTile(left)
}

func (m *MapIndex) MarkOnDisc(idx model.TileIndex, onDisc bool) {
	m.slot(idx).onDisc = onDisc
}

func (m *MapIndex) OnDisc(idx model.TileIndex) bool { return m.slot(idx).onDisc }

// IsTileExternal reports whether the tile's data lives in its own file
// rather than only being declared by the header.
func (m *MapIndex) IsTileExternal(idx model.TileIndex) bool {
	s := m.slot(idx)
	return model.TileHasTerrain(s.flags) && s.onDisc
}

func (m *MapIndex) HasAGlobalWMO() bool { return m.hasGlobalWMO }

// GlobalWMO returns the map-wide structure placement, if any.
func (m *MapIndex) GlobalWMO() (model.WMOInstance, bool) {
	return m.header.WMOEntry, m.hasGlobalWMO
}

func (m *MapIndex) HasAdt() bool      { return m.hasAdt }
func (m *MapIndex) SetAdt(value bool) { m.hasAdt = value }

func (m *MapIndex) HasBigAlpha() bool           { return m.bigAlpha }
func (m *MapIndex) SortModelsBySizeClass() bool { return m.sortBySizeClass }

// Changed is the map level dirty flag.
func (m *MapIndex) Changed() bool { return m.changed }

// Save writes the map header: tile flags, alpha mode and the global WMO.
func (m *MapIndex) Save() error {
	h := m.header
	h.Flags &^= model.HeaderBigAlpha | model.HeaderGlobalWMO | model.HeaderSortBySizeClass
	if m.bigAlpha {
		h.Flags |= model.HeaderBigAlpha
	}
	if m.hasGlobalWMO {
		h.Flags |= model.HeaderGlobalWMO
	}
	if m.sortBySizeClass {
		h.Flags |= model.HeaderSortBySizeClass
	}
	if err := m.hdr.Write(m.basename, &h); err != nil {
		return fmt.Errorf("save header of map %d: %w", m.mapID, err)
	}
	m.header = h
	m.headerChanged = false
	return nil
}
