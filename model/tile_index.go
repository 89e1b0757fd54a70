package model

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

const (
	// GridSize is the number of tiles along each axis of a map.
	GridSize  = 64
	TileCount = GridSize * GridSize
	// TileSize is the world-space edge length of one tile.
	TileSize = 533.33333
)

// TileIndex addresses one cell of the 64x64 grid.
type TileIndex struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// AddressError reports a coordinate outside [0, 64). It is a programming
// error and is raised through panic.
type AddressError struct {
	X, Z int
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("tile index (%d, %d) out of range [0, %d)", e.X, e.Z, GridSize)
}

// NewTileIndex panics with *AddressError if x or z is out of range.
func NewTileIndex(x, z int) TileIndex {
	idx := TileIndex{X: x, Z: z}
	idx.MustValid()
	return idx
}

// TileIndexFromPosition maps a world position onto the grid. The result may
// be invalid for positions outside the map.
func TileIndexFromPosition(pos Vec3) TileIndex {
	return TileIndex{
		X: int(math.Floor(float64(pos.X) / TileSize)),
		Z: int(math.Floor(float64(pos.Z) / TileSize)),
	}
}

func (t TileIndex) Valid() bool {
	return inRange(t.X, 0, GridSize) && inRange(t.Z, 0, GridSize)
}

func (t TileIndex) MustValid() {
	if !t.Valid() {
		panic(&AddressError{X: t.X, Z: t.Z})
	}
}

// Linear is the raster position of the tile: x varies fastest.
func (t TileIndex) Linear() int { return t.Z*GridSize + t.X }

func TileIndexFromLinear(i int) TileIndex {
	return TileIndex{X: i % GridSize, Z: i / GridSize}
}

// Less orders tiles in raster order.
func (t TileIndex) Less(o TileIndex) bool {
	if t.Z != o.Z {
		return t.Z < o.Z
	}
	return t.X < o.X
}

func (t TileIndex) Above() TileIndex { return TileIndex{X: t.X, Z: t.Z - 1} }
func (t TileIndex) Left() TileIndex  { return TileIndex{X: t.X - 1, Z: t.Z} }

// Chebyshev is the grid distance used for eviction.
func (t TileIndex) Chebyshev(o TileIndex) int {
	return max(absDiff(t.X, o.X), absDiff(t.Z, o.Z))
}

// Origin is the world-space corner of the tile.
func (t TileIndex) Origin() (x, z float32) {
	return float32(float64(t.X) * TileSize), float32(float64(t.Z) * TileSize)
}

func (t TileIndex) String() string { return fmt.Sprintf("%d_%d", t.X, t.Z) }

type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// ShortestDist returns the planar distance from (x, z) to the square whose
// corner is (squareX, squareZ) with edge size. Points inside the square are
// at distance 0.
func ShortestDist(x, z, squareX, squareZ, size float32) float32 {
	px := clamp(x, squareX, squareX+size)
	pz := clamp(z, squareZ, squareZ+size)
	dx, dz := float64(px-x), float64(pz-z)
	return float32(math.Sqrt(dx*dx + dz*dz))
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func inRange[T constraints.Integer](v, lo, hi T) bool { return v >= lo && v < hi }

func absDiff[T constraints.Signed](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}
