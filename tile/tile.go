package tile

import (
	"terrain/api/model"
)

const (
	HeightGrid = 17
	AlphaSize  = 64

	bigAlphaBytes   = AlphaSize * AlphaSize
	smallAlphaBytes = AlphaSize * AlphaSize / 2
)

// TextureLayer is one blended texture. The base layer carries no alpha.
type TextureLayer struct {
	Texture string `json:"texture"`
	Alpha   []byte `json:"alpha,omitempty"`
}

// Tile is the in-memory form of one grid cell's terrain and placements.
type Tile struct {
	Index    model.TileIndex
	Heights  [HeightGrid * HeightGrid]float32
	Layers   []TextureLayer
	BigAlpha bool
	Models   []model.ModelInstance
	WMOs     []model.WMOInstance
}

func New(idx model.TileIndex, bigAlpha bool) *Tile {
	return &Tile{Index: idx, BigAlpha: bigAlpha}
}

// AlphaBytes is the expected alpha length of a non-base layer.
func AlphaBytes(bigAlpha bool) int {
	if bigAlpha {
		return bigAlphaBytes
	}
	return smallAlphaBytes
}

// AddLayer appends a blank texture layer in the tile's current alpha mode.
func (t *Tile) AddLayer(texture string) *TextureLayer {
	l := TextureLayer{Texture: texture}
	if len(t.Layers) > 0 {
		l.Alpha = make([]byte, AlphaBytes(t.BigAlpha))
	}
	t.Layers = append(t.Layers, l)
	return &t.Layers[len(t.Layers)-1]
}

// MaxUID returns the highest placement UID on the tile, 0 if none.
func (t *Tile) MaxUID() uint32 {
	var hi uint32
	for _, m := range t.Models {
		hi = max(hi, m.UID)
	}
	for _, w := range t.WMOs {
		hi = max(hi, w.UID)
	}
	return hi
}

// EachUID visits every placement UID by reference, models first.
func (t *Tile) EachUID(fn func(uid *uint32)) {
	for i := range t.Models {
		fn(&t.Models[i].UID)
	}
	for i := range t.WMOs {
		fn(&t.WMOs[i].UID)
	}
}

// ConvertAlphamap switches every layer between the packed 4-bit and the
// 8-bit alpha encodings. It reports whether anything changed.
func (t *Tile) ConvertAlphamap(toBig bool) bool {
	if t.BigAlpha == toBig {
		return false
	}
	for i := range t.Layers {
		if t.Layers[i].Alpha == nil {
			continue
		}
		if toBig {
			t.Layers[i].Alpha = expandAlpha(t.Layers[i].Alpha)
		} else {
			t.Layers[i].Alpha = packAlpha(t.Layers[i].Alpha)
		}
	}
	t.BigAlpha = toBig
	return true
}

// low nibble holds the even pixel
func expandAlpha(packed []byte) []byte {
	out := make([]byte, len(packed)*2)
	for i, b := range packed {
		out[2*i] = (b & 0x0f) * 17
		out[2*i+1] = (b >> 4) * 17
	}
	return out
}

func packAlpha(full []byte) []byte {
	out := make([]byte, len(full)/2)
	for i := range out {
		lo := to4Bit(full[2*i])
		hi := to4Bit(full[2*i+1])
		out[i] = lo | hi<<4
	}
	return out
}

func to4Bit(v byte) byte {
	return byte((uint16(v)*15 + 127) / 255)
}
