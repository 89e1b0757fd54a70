package mapindex

import (
	"errors"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"terrain/api/model"
	"terrain/api/tile"
)

func TestSaveChangedClearsFlagOnSuccess(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}, ti(2, 2): {2}})
	sink := &savedLog{}
	m := openMap(t, base)

	_, _ = m.LoadTile(ti(2, 2))
	if err := m.SetChanged(ti(1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveChanged(sink); err != nil {
		t.Fatal(err)
	}
	if m.Changed() {
		t.Fatalf("map still dirty after a clean pass")
	}
	if len(sink.saved) != 1 || sink.saved[0] != ti(1, 1) {
		t.Fatalf("clean tiles must be skipped, saved %v", sink.saved)
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedClean {
		t.Fatalf("saved tile should be clean")
	}
}

func TestSaveChangedReportsFailures(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}, ti(2, 2): {2}, ti(3, 3): {3}})
	store := &flakyStore{failSave: map[model.TileIndex]bool{ti(2, 2): true}}
	sink := &savedLog{}
	m := openMap(t, base, func(o *Options) { o.Tiles = store })

	for _, idx := range []model.TileIndex{ti(1, 1), ti(2, 2), ti(3, 3)} {
		if err := m.SetChanged(idx); err != nil {
			t.Fatal(err)
		}
	}
	err := m.SaveChanged(sink)
	var se *SaveError
	if !errors.As(err, &se) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if len(se.Failed) != 1 || se.Failed[0] != ti(2, 2) {
		t.Fatalf("unexpected failures: %s", spew.Sdump(se.Failed))
	}
	if !m.Changed() {
		t.Fatalf("map must stay dirty after a failed pass")
	}
	if m.GetChanged(ti(2, 2)) != model.LoadedDirty {
		t.Fatalf("failed tile must stay dirty")
	}
	if len(sink.saved) != 2 {
		t.Fatalf("pass should continue past the failure, saved %v", sink.saved)
	}

	delete(store.failSave, ti(2, 2))
	if err := m.SaveChanged(sink); err != nil {
		t.Fatal(err)
	}
	if m.Changed() {
		t.Fatalf("retry should clear the map flag")
	}
}

func TestSaveAllWritesCleanTilesAndHeader(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}}, ti(4, 4))
	sink := &savedLog{}
	m := openMap(t, base)

	_, _ = m.LoadTile(ti(1, 1))
	_, _ = m.LoadTile(ti(4, 4))
	if err := m.SaveAll(sink); err != nil {
		t.Fatal(err)
	}
	if len(sink.saved) != 2 {
		t.Fatalf("expected both tiles written, got %v", sink.saved)
	}
	if !m.IsTileExternal(ti(4, 4)) {
		t.Fatalf("new tile should be on disc after save")
	}
}

func TestConvertAlphamapNoop(t *testing.T) {
	base := writeMap(t, true, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	m := openMap(t, base)
	tl, _ := m.LoadTile(ti(1, 1))
	before := append([]byte(nil), tl.Layers[1].Alpha...)

	if err := m.ConvertAlphamap(true); err != nil {
		t.Fatal(err)
	}
	if !m.HasBigAlpha() || m.Changed() || m.GetChanged(ti(1, 1)) != model.LoadedClean {
		t.Fatalf("no-op conversion changed state")
	}
	if string(before) != string(tl.Layers[1].Alpha) {
		t.Fatalf("no-op conversion touched tile data")
	}
}

func TestConvertAlphamapRewritesTiles(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}, ti(5, 5): {2}})
	sink := &savedLog{}
	m := openMap(t, base, func(o *Options) { o.World = sink })
	resident, _ := m.LoadTile(ti(1, 1))

	if err := m.ConvertAlphamap(true); err != nil {
		t.Fatal(err)
	}
	if !m.HasBigAlpha() || !m.Changed() {
		t.Fatalf("map flags not updated")
	}
	if !resident.BigAlpha || len(resident.Layers[1].Alpha) != tile.AlphaBytes(true) {
		t.Fatalf("resident tile not converted")
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedDirty {
		t.Fatalf("resident tile should be dirty")
	}
	if m.TileLoaded(ti(5, 5)) || len(sink.saved) != 1 || sink.saved[0] != ti(5, 5) {
		t.Fatalf("on-disk tile should be rewritten and released, saved %v", sink.saved)
	}
	onDisk, err := m.tiles.Load(base, testMapID, ti(5, 5))
	if err != nil {
		t.Fatal(err)
	}
	if !onDisk.BigAlpha || onDisk.Layers[1].Alpha[0] != 0x11 {
		t.Fatalf("on-disk tile not converted: big=%v alpha=%#x", onDisk.BigAlpha, onDisk.Layers[1].Alpha[0])
	}
}

func TestSetChangedLoadsTile(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}})
	m := openMap(t, base)

	if err := m.SetChanged(ti(1, 1)); err != nil {
		t.Fatal(err)
	}
	if m.GetChanged(ti(1, 1)) != model.LoadedDirty || !m.Changed() {
		t.Fatalf("tile not marked dirty")
	}
	if err := m.SetChanged(ti(9, 9)); err != nil || m.TileLoaded(ti(9, 9)) {
		t.Fatalf("hole must be ignored")
	}
	m.UnsetChanged(ti(1, 1))
	if m.GetChanged(ti(1, 1)) != model.LoadedClean || !m.Changed() {
		t.Fatalf("UnsetChanged must only clear the tile flag")
	}
}

func TestMarkOnDisc(t *testing.T) {
	base := writeMap(t, false, nil, ti(3, 3))
	m := openMap(t, base)
	if m.IsTileExternal(ti(3, 3)) {
		t.Fatalf("declared tile has no file")
	}
	m.MarkOnDisc(ti(3, 3), true)
	if !m.IsTileExternal(ti(3, 3)) {
		t.Fatalf("override ignored")
	}
}

func TestConvertAlphamapConvertsFailedTilesOnLoad(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): {1}, ti(5, 5): {2}})
	store := &flakyStore{failLoad: map[model.TileIndex]bool{ti(5, 5): true}}
	m := openMap(t, base, func(o *Options) { o.Tiles = store })

	err := m.ConvertAlphamap(true)
	if !errors.Is(err, errReadTile) {
		t.Fatalf("expected the read error, got %v", err)
	}
	if !m.HasBigAlpha() || !m.Changed() {
		t.Fatalf("map mode must flip even when a tile fails")
	}
	onDisk, err := m.tiles.Load(base, testMapID, ti(1, 1))
	if err != nil || !onDisk.BigAlpha {
		t.Fatalf("readable tile not rewritten: %v", err)
	}

	delete(store.failLoad, ti(5, 5))
	tl, err := m.LoadTile(ti(5, 5))
	if err != nil {
		t.Fatal(err)
	}
	if !tl.BigAlpha || len(tl.Layers[1].Alpha) != tile.AlphaBytes(true) {
		t.Fatalf("tile left behind must come up converted")
	}
	if m.GetChanged(ti(5, 5)) != model.LoadedDirty {
		t.Fatalf("converted-on-load tile must be dirty")
	}
}

func TestUnloadTilesThrottled(t *testing.T) {
	base := writeMap(t, false, map[model.TileIndex][]uint32{ti(1, 1): nil, ti(20, 20): nil})
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := openMap(t, base, func(o *Options) {
		o.UnloadInterval = 5 * time.Second
		o.Now = func() time.Time { return clock }
	})

	if _, err := m.LoadTile(ti(20, 20)); err != nil {
		t.Fatal(err)
	}
	evicted, err := m.UnloadTiles(ti(1, 1))
	if err != nil || len(evicted) != 1 {
		t.Fatalf("first pass should evict (20,20), got %v %v", evicted, err)
	}

	if _, err := m.LoadTile(ti(20, 20)); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(4 * time.Second)
	evicted, err = m.UnloadTiles(ti(1, 1))
	if err != nil || len(evicted) != 0 || !m.TileLoaded(ti(20, 20)) {
		t.Fatalf("pass inside the interval must not evict, got %v %v", evicted, err)
	}

	clock = clock.Add(2 * time.Second)
	evicted, err = m.UnloadTiles(ti(1, 1))
	if err != nil || len(evicted) != 1 || m.TileLoaded(ti(20, 20)) {
		t.Fatalf("pass after the interval should evict, got %v %v", evicted, err)
	}
}
