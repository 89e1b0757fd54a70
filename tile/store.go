package tile

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	mycache "terrain/api/cache"
	"terrain/api/model"
)

const (
	fileExt       = ".adt"
	tmpExt        = ".tmp"
	formatVersion = 1
)

var ErrCorruptTile = errors.New("corrupt tile data")

// FormatError reports a tile record that is missing or cannot be decoded.
type FormatError struct {
	Path  string
	Index model.TileIndex
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("tile %s (%s): %v", e.Index, e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

type tilePayload struct {
	Version  int                   `json:"version"`
	MapID    int                   `json:"mapId"`
	X        int                   `json:"x"`
	Z        int                   `json:"z"`
	BigAlpha bool                  `json:"bigAlpha"`
	Heights  []float32             `json:"heights"`
	Layers   []TextureLayer        `json:"layers"`
	Models   []model.ModelInstance `json:"models,omitempty"`
	WMOs     []model.WMOInstance   `json:"wmos,omitempty"`
}

// FileStore keeps one gzip JSON file per tile next to the map header.
type FileStore struct{}

func NewFileStore() *FileStore { return &FileStore{} }

func Path(basename string, idx model.TileIndex) string {
	return fmt.Sprintf("%s_%d_%d%s", basename, idx.X, idx.Z, fileExt)
}

func (FileStore) Exists(basename string, idx model.TileIndex) bool {
	_, err := os.Stat(Path(basename, idx))
	return err == nil
}

// ModTime returns when the tile file was last written.
func (FileStore) ModTime(basename string, idx model.TileIndex) (time.Time, error) {
	fi, err := os.Stat(Path(basename, idx))
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (FileStore) Load(basename string, mapID int, idx model.TileIndex) (*Tile, error) {
	p := Path(basename, idx)
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, &FormatError{Path: p, Index: idx, Err: err}
	}
	t, err := decode(raw, mapID, idx)
	if err != nil {
		return nil, &FormatError{Path: p, Index: idx, Err: err}
	}
	return t, nil
}

func (FileStore) Save(t *Tile, basename string, mapID int, idx model.TileIndex) error {
	if t == nil {
		return fmt.Errorf("save tile %s: nil tile", idx)
	}
	raw, err := encode(t, mapID, idx)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", idx, err)
	}
	p := Path(basename, idx)
	tmp := p + tmpExt
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write tile %s: %w", idx, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename tile %s: %w", idx, err)
	}
	return nil
}

// Remove deletes a tile file. Missing files are not an error.
func (FileStore) Remove(basename string, idx model.TileIndex) error {
	if err := os.Remove(Path(basename, idx)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove tile %s: %w", idx, err)
	}
	return nil
}

// HighestUID reads the highest placement UID straight from the tile file.
// Results are cached per file version.
func (FileStore) HighestUID(basename string, mapID int, idx model.TileIndex) (uint32, error) {
	p := Path(basename, idx)
	fi, err := os.Stat(p)
	if err != nil {
		return 0, &FormatError{Path: p, Index: idx, Err: err}
	}
	if uid, ok := mycache.GetHighestUID(p, fi.ModTime(), fi.Size()); ok {
		return uid, nil
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return 0, &FormatError{Path: p, Index: idx, Err: err}
	}
	t, err := decode(raw, mapID, idx)
	if err != nil {
		return 0, &FormatError{Path: p, Index: idx, Err: err}
	}
	uid := t.MaxUID()
	mycache.SetHighestUID(p, fi.ModTime(), fi.Size(), uid)
	return uid, nil
}

func encode(t *Tile, mapID int, idx model.TileIndex) ([]byte, error) {
	payload := tilePayload{
		Version:  formatVersion,
		MapID:    mapID,
		X:        idx.X,
		Z:        idx.Z,
		BigAlpha: t.BigAlpha,
		Heights:  t.Heights[:],
		Layers:   t.Layers,
		Models:   t.Models,
		WMOs:     t.WMOs,
	}
	j, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(j); err != nil {
		_ = gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, mapID int, idx model.TileIndex) (*Tile, error) {
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}
	defer gr.Close()
	j, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}
	var p tilePayload
	if err := json.Unmarshal(j, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTile, err)
	}
	if p.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptTile, p.Version)
	}
	if p.MapID != mapID || p.X != idx.X || p.Z != idx.Z {
		return nil, fmt.Errorf("%w: payload mismatch map=%d x=%d z=%d", ErrCorruptTile, p.MapID, p.X, p.Z)
	}
	if len(p.Heights) != HeightGrid*HeightGrid {
		return nil, fmt.Errorf("%w: %d heights", ErrCorruptTile, len(p.Heights))
	}
	want := AlphaBytes(p.BigAlpha)
	for i, l := range p.Layers {
		if i == 0 {
			continue
		}
		if len(l.Alpha) != want {
			return nil, fmt.Errorf("%w: layer %d alpha is %d bytes, want %d", ErrCorruptTile, i, len(l.Alpha), want)
		}
	}

	t := &Tile{
		Index:    idx,
		Layers:   p.Layers,
		BigAlpha: p.BigAlpha,
		Models:   p.Models,
		WMOs:     p.WMOs,
	}
	copy(t.Heights[:], p.Heights)
	return t, nil
}
