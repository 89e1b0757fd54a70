package mapindex

import (
	"iter"

	"terrain/api/model"
	"terrain/api/tile"
)

// Materialize selects what dereferencing an iterator does.
type Materialize int

const (
	// Peek yields the resident tile or nil.
	Peek Materialize = iota
	// ForceLoad loads the tile before yielding it.
	ForceLoad
)

// Predicate decides whether a coordinate is visited. It always sees the
// resident tile, never a freshly loaded one.
type Predicate func(idx model.TileIndex, t *tile.Tile) bool

// TileIterator walks the grid in raster order (x fastest) and stops on the
// coordinates accepted by its predicate. The zero value is an end iterator.
type TileIterator struct {
	index *MapIndex
	cur   model.TileIndex
	mode  Materialize
	pred  Predicate
	err   error
}

// Iterate returns an iterator positioned on the first accepted coordinate at
// or after start.
func (m *MapIndex) Iterate(start model.TileIndex, mode Materialize, pred Predicate) *TileIterator {
	start.MustValid()
	it := &TileIterator{index: m, cur: start, mode: mode, pred: pred}
	it.skip()
	return it
}

// End returns the terminal iterator.
func (m *MapIndex) End() *TileIterator { return &TileIterator{} }

func (it *TileIterator) Done() bool { return it.index == nil }

func (it *TileIterator) Index() model.TileIndex { return it.cur }

// Tile dereferences the iterator. In ForceLoad mode a failed load is
// recorded and nil returned.
func (it *TileIterator) Tile() *tile.Tile {
	if it.index == nil {
		return nil
	}
	if it.mode == Peek {
		return it.index.GetTile(it.cur)
	}
	t, err := it.index.LoadTile(it.cur)
	if err != nil {
		if it.err == nil {
			it.err = err
		}
		return nil
	}
	return t
}

// Next advances to the next accepted coordinate.
func (it *TileIterator) Next() {
	if it.index == nil {
		return
	}
	it.step()
	it.skip()
}

func (it *TileIterator) step() {
	it.cur.X++
	if it.cur.X < model.GridSize {
		return
	}
	it.cur.X = 0
	it.cur.Z++
	if it.cur.Z >= model.GridSize {
		it.index = nil
		it.cur = model.TileIndex{}
	}
}

func (it *TileIterator) skip() {
	for it.index != nil && it.pred != nil && !it.pred(it.cur, it.index.GetTile(it.cur)) {
		it.step()
	}
}

// Equal compares owning index and position. End iterators are always equal.
func (it *TileIterator) Equal(o *TileIterator) bool {
	if it.index == nil || o.index == nil {
		return it.index == o.index
	}
	return it.index == o.index && it.cur == o.cur
}

// Err returns the first load failure seen while dereferencing.
func (it *TileIterator) Err() error { return it.err }

// Seq drains the iterator as a range-over-func sequence.
func (it *TileIterator) Seq() iter.Seq2[model.TileIndex, *tile.Tile] {
	return func(yield func(model.TileIndex, *tile.Tile) bool) {
		for ; !it.Done(); it.Next() {
			t := it.Tile()
			if t == nil && it.mode == ForceLoad {
				continue
			}
			if !yield(it.cur, t) {
				return
			}
		}
	}
}

// LoadedTiles visits the resident working set without touching disk.
func (m *MapIndex) LoadedTiles() *TileIterator {
	return m.Iterate(model.TileIndex{}, Peek, func(_ model.TileIndex, t *tile.Tile) bool {
		return t != nil
	})
}

// TilesInRange visits, loading as needed, every terrain tile whose footprint
// lies within radius of pos on the ground plane.
func (m *MapIndex) TilesInRange(pos model.Vec3, radius float32) *TileIterator {
	return m.Iterate(model.TileIndex{}, ForceLoad, func(idx model.TileIndex, _ *tile.Tile) bool {
		if !m.HasTile(idx) {
			return false
		}
		ox, oz := idx.Origin()
		return model.ShortestDist(pos.X, pos.Z, ox, oz, model.TileSize) <= radius
	})
}
