package mapindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"terrain/api/header"
	"terrain/api/model"
	"terrain/api/tile"
	"terrain/api/uid"
)

const testMapID = 7

// flakyStore fails loads and saves for the listed tiles.
type flakyStore struct {
	tile.FileStore
	failSave map[model.TileIndex]bool
	failLoad map[model.TileIndex]bool
}

var (
	errDiskFull = errors.New("disk full")
	errReadTile = errors.New("read error")
)

func (f *flakyStore) Load(basename string, mapID int, idx model.TileIndex) (*tile.Tile, error) {
	if f.failLoad[idx] {
		return nil, errReadTile
	}
	return f.FileStore.Load(basename, mapID, idx)
}

func (f *flakyStore) Save(t *tile.Tile, basename string, mapID int, idx model.TileIndex) error {
	if f.failSave[idx] {
		return errDiskFull
	}
	return f.FileStore.Save(t, basename, mapID, idx)
}

type savedLog struct {
	saved []model.TileIndex
}

func (s *savedLog) TileSaved(idx model.TileIndex, _ *tile.Tile) {
	s.saved = append(s.saved, idx)
}

func ti(x, z int) model.TileIndex { return model.NewTileIndex(x, z) }

// writeMap lays out a map on disk. Every key of tiles gets a file holding
// one model per uid; declared coordinates only get the terrain flag.
func writeMap(t *testing.T, bigAlpha bool, tiles map[model.TileIndex][]uint32, declared ...model.TileIndex) string {
	t.Helper()
	base := filepath.Join(t.TempDir(), "azeroth")
	h := &model.MapHeader{}
	if bigAlpha {
		h.Flags |= model.HeaderBigAlpha
	}
	fs := tile.NewFileStore()
	for idx, uids := range tiles {
		h.SetTileFlags(idx, model.FlagHasTerrain)
		tl := tile.New(idx, bigAlpha)
		tl.AddLayer("tileset/grass.blp")
		l := tl.AddLayer("tileset/dirt.blp")
		for i := range l.Alpha {
			l.Alpha[i] = 0x11
		}
		for _, u := range uids {
			tl.Models = append(tl.Models, model.ModelInstance{UID: u, Model: "tree.m2"})
		}
		if err := fs.Save(tl, base, testMapID, idx); err != nil {
			t.Fatalf("save tile %s: %v", idx, err)
		}
	}
	for _, idx := range declared {
		h.SetTileFlags(idx, model.FlagHasTerrain)
	}
	if err := header.NewFileHeader().Write(base, h); err != nil {
		t.Fatalf("write header: %v", err)
	}
	return base
}

func openMap(t *testing.T, base string, mutate ...func(*Options)) *MapIndex {
	t.Helper()
	opts := Options{
		Tiles:          tile.NewFileStore(),
		Header:         header.NewFileHeader(),
		Allocator:      uid.NewLocal(),
		UnloadDistance: 2,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	m, err := New(context.Background(), base, testMapID, opts)
	if err != nil {
		t.Fatalf("open map: %v", err)
	}
	return m
}

func TestNewRequiresHeader(t *testing.T) {
	base := filepath.Join(t.TempDir(), "missing")
	_, err := New(context.Background(), base, testMapID, Options{Tiles: tile.NewFileStore(), Header: header.NewFileHeader()})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestNewPopulatesSlots(t *testing.T) {
	base := writeMap(t, true, map[model.TileIndex][]uint32{ti(1, 1): {4}}, ti(2, 2))
	m := openMap(t, base)

	if !m.HasTile(ti(1, 1)) || !m.HasTile(ti(2, 2)) || m.HasTile(ti(3, 3)) {
		t.Fatalf("unexpected existence table")
	}
	if !m.IsTileExternal(ti(1, 1)) || m.IsTileExternal(ti(2, 2)) {
		t.Fatalf("on-disc state not taken from the tile files")
	}
	if !m.HasBigAlpha() || !m.HasAdt() || m.HasAGlobalWMO() {
		t.Fatalf("unexpected map flags: big=%v adt=%v wmo=%v", m.HasBigAlpha(), m.HasAdt(), m.HasAGlobalWMO())
	}
	if m.TileLoaded(ti(1, 1)) {
		t.Fatalf("opening a map must not materialize tiles")
	}
	m.SetAdt(false)
	if m.HasAdt() {
		t.Fatalf("SetAdt(false) ignored")
	}
}

func TestLoadTileWithoutTerrain(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): nil})
	m := openMap(t, base)

	for _, idx := range []model.TileIndex{ti(0, 0), ti(63, 63), ti(1, 2)} {
		got, err := m.LoadTile(idx)
		if err != nil || got != nil {
			t.Fatalf("load %s: got %v, %v", idx, got, err)
		}
		if m.TileLoaded(idx) || m.GetChanged(idx) != model.NotLoaded {
			t.Fatalf("hole %s was materialized", idx)
		}
	}
}

func TestLoadTileIsIdempotent(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	m := openMap(t, base)

	first, err := m.LoadTile(ti(1, 1))
	if err != nil || first == nil {
		t.Fatalf("load: %v", err)
	}
	second, err := m.LoadTile(ti(1, 1))
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same tile instance")
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedClean {
		t.Fatalf("fresh tile should be clean, got %s", m.GetChanged(ti(1, 1)))
	}
}

func TestLoadDeclaredTileWithoutFile(t *testing.T) {
	base := writeMap(t, true, nil, ti(5, 5))
	m := openMap(t, base)

	got, err := m.LoadTile(ti(5, 5))
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	if !got.BigAlpha {
		t.Fatalf("blank tile should follow the map alpha mode")
	}
	if m.GetChanged(ti(5, 5)) != model.LoadedDirty || !m.Changed() {
		t.Fatalf("blank tile should be dirty")
	}
}

func TestLoadCorruptTileLeavesSlotAlone(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	if err := os.WriteFile(tile.Path(base, ti(1, 1)), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := openMap(t, base)

	_, err := m.LoadTile(ti(1, 1))
	var fe *tile.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if m.TileLoaded(ti(1, 1)) || !m.OnDisc(ti(1, 1)) {
		t.Fatalf("failed load must leave the slot untouched")
	}
}

func TestUnloadTile(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	m := openMap(t, base)

	if err := m.UnloadTile(ti(1, 1)); err != nil {
		t.Fatalf("unloading an unloaded tile: %v", err)
	}
	if _, err := m.LoadTile(ti(1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.UnloadTile(ti(1, 1)); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if m.TileLoaded(ti(1, 1)) || m.GetTile(ti(1, 1)) != nil {
		t.Fatalf("tile still resident after unload")
	}
}

func TestUnloadDirtyTileSavesFirst(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	sink := &savedLog{}
	m := openMap(t, base, func(o *Options) { o.World = sink })

	tl, _ := m.LoadTile(ti(1, 1))
	tl.Heights[0] = 42
	if err := m.SetTileChanged(tl); err != nil {
		t.Fatal(err)
	}
	if err := m.UnloadTile(ti(1, 1)); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(sink.saved) != 1 || sink.saved[0] != ti(1, 1) {
		t.Fatalf("expected one save callback, got %v", sink.saved)
	}
	again, _ := m.LoadTile(ti(1, 1))
	if again.Heights[0] != 42 {
		t.Fatalf("edit lost on eviction")
	}
}

func TestUnloadDirtyTileConflict(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	store := &flakyStore{failSave: map[model.TileIndex]bool{ti(1, 1): true}}
	m := openMap(t, base, func(o *Options) { o.Tiles = store })

	if err := m.SetChanged(ti(1, 1)); err != nil {
		t.Fatal(err)
	}
	err := m.UnloadTile(ti(1, 1))
	var conflict *EvictionConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected eviction conflict, got %v", err)
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedDirty {
		t.Fatalf("tile must stay loaded and dirty")
	}
}

func TestReloadTileDiscardsEdits(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	m := openMap(t, base)

	tl, _ := m.LoadTile(ti(1, 1))
	tl.Heights[0] = 99
	_ = m.SetChanged(ti(1, 1))

	fresh, err := m.ReloadTile(ti(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if fresh == tl || fresh.Heights[0] != 0 {
		t.Fatalf("reload kept the edited tile")
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedClean {
		t.Fatalf("reloaded tile should be clean")
	}
	if err := m.SetTileChanged(tl); !errors.Is(err, ErrStaleTile) {
		t.Fatalf("old pointer should be stale, got %v", err)
	}
}

func TestUnloadTilesNeverEvictsFocus(t *testing.T) {
	tiles := map[model.TileIndex][]uint32{}
	for _, idx := range []model.TileIndex{ti(10, 10), ti(11, 10), ti(13, 10), ti(30, 30)} {
		tiles[idx] = nil
	}
	base := writeMap(t, false, tiles)
	m := openMap(t, base, func(o *Options) { o.UnloadDistance = 1 })

	for idx := range tiles {
		if _, err := m.LoadTile(idx); err != nil {
			t.Fatal(err)
		}
	}
	evicted, err := m.UnloadTiles(ti(30, 30))
	if err != nil {
		t.Fatal(err)
	}
	if !m.TileLoaded(ti(30, 30)) {
		t.Fatalf("focus tile evicted")
	}
	if len(evicted) != 3 {
		t.Fatalf("expected 3 evictions, got %s", spew.Sdump(evicted))
	}

	_, _ = m.LoadTile(ti(10, 10))
	_, _ = m.LoadTile(ti(11, 10))
	_, _ = m.LoadTile(ti(13, 10))
	if _, err := m.UnloadTiles(ti(10, 10)); err != nil {
		t.Fatal(err)
	}
	if !m.TileLoaded(ti(10, 10)) || !m.TileLoaded(ti(11, 10)) {
		t.Fatalf("tiles within the distance were evicted")
	}
	if m.TileLoaded(ti(13, 10)) || m.TileLoaded(ti(30, 30)) {
		t.Fatalf("far tiles were kept")
	}
}

func TestEnterTileLoadsNeighbourhood(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(0, 0): nil, ti(1, 1): nil, ti(3, 3): nil})
	m := openMap(t, base)

	if err := m.EnterTile(ti(0, 0)); err != nil {
		t.Fatal(err)
	}
	if m.Cursor() != ti(0, 0) {
		t.Fatalf("cursor not moved: %s", m.Cursor())
	}
	if !m.TileLoaded(ti(0, 0)) || !m.TileLoaded(ti(1, 1)) || m.TileLoaded(ti(3, 3)) {
		t.Fatalf("unexpected working set after enter")
	}
}

func TestNeighbours(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(0, 0): nil, ti(1, 0): nil, ti(1, 1): nil})
	m := openMap(t, base)
	_ = m.EnterTile(ti(1, 1))

	c := m.GetTile(ti(1, 1))
	if m.GetTileAbove(c) != m.GetTile(ti(1, 0)) || m.GetTileAbove(c) == nil {
		t.Fatalf("wrong tile above")
	}
	if m.GetTileLeft(c) != nil {
		t.Fatalf("(0,1) holds no terrain")
	}
	if m.GetTileAbove(m.GetTile(ti(0, 0))) != nil || m.GetTileLeft(m.GetTile(ti(0, 0))) != nil {
		t.Fatalf("edge tile must have no neighbours")
	}
}

func TestSetFlag(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): nil})
	m := openMap(t, base)
	_, _ = m.LoadTile(ti(1, 1))

	ox, oz := ti(1, 1).Origin()
	pos := model.Vec3{X: ox + 10, Z: oz + 10}
	if err := m.SetFlag(true, pos, model.FlagNoADT); err != nil {
		t.Fatal(err)
	}
	if m.HasTile(ti(1, 1)) || m.TileLoaded(ti(1, 1)) {
		t.Fatalf("hole must not stay materialized")
	}
	if m.GetFlag(ti(1, 1)) != model.FlagHasTerrain|model.FlagNoADT || !m.Changed() {
		t.Fatalf("flag not applied: %#x", m.GetFlag(ti(1, 1)))
	}

	var addr *model.AddressError
	if err := m.SetFlag(true, model.Vec3{X: -1}, model.FlagNoADT); !errors.As(err, &addr) {
		t.Fatalf("expected AddressError, got %v", err)
	}
}

func TestClearingHoleKeepsTileFile(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {42, 43}})
	ox, oz := ti(1, 1).Origin()
	pos := model.Vec3{X: ox + 10, Z: oz + 10}

	m := openMap(t, base)
	if err := m.SetFlag(true, pos, model.FlagNoADT); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveAll(nil); err != nil {
		t.Fatal(err)
	}

	m = openMap(t, base)
	if err := m.SetFlag(false, pos, model.FlagNoADT); err != nil {
		t.Fatal(err)
	}
	tl, err := m.LoadTile(ti(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if tl == nil || len(tl.Models) != 2 || m.GetChanged(ti(1, 1)) != model.LoadedClean {
		t.Fatalf("expected the file back clean, got %s", spew.Sdump(tl))
	}
	if err := m.SaveChanged(nil); err != nil {
		t.Fatal(err)
	}
	onDisk, err := m.tiles.Load(base, testMapID, ti(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk.Models) != 2 {
		t.Fatalf("tile file overwritten, %d models left", len(onDisk.Models))
	}
}

func TestAddressOutOfRangePanics(t *testing.T) {
	base := writeMap(t, false, nil)
	m := openMap(t, base)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	m.GetTile(model.TileIndex{X: 64, Z: 0})
}
