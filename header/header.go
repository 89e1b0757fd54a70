package header

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"terrain/api/model"
)

const (
	fileExt = ".wdt"
	tmpExt  = ".tmp"
	version = 18
)

var (
	magicVersion = [4]byte{'M', 'V', 'E', 'R'}
	magicHeader  = [4]byte{'M', 'P', 'H', 'D'}
	magicMain    = [4]byte{'M', 'A', 'I', 'N'}
	magicWMOName = [4]byte{'M', 'W', 'M', 'O'}
	magicWMODef  = [4]byte{'M', 'O', 'D', 'F'}
)

var ErrCorruptHeader = errors.New("corrupt map header")

type chunkHeader struct {
	Magic [4]byte
	Size  uint32
}

type mainEntry struct {
	Flags    uint32
	Reserved uint32
}

type modfEntry struct {
	UID       uint32
	Pos       [3]float32
	Rot       [3]float32
	DoodadSet uint16
	NameSet   uint16
}

// Path returns the header file for a map basename.
func Path(basename string) string { return basename + fileExt }

// FileHeader reads and writes map headers next to the tile files.
type FileHeader struct{}

func NewFileHeader() *FileHeader { return &FileHeader{} }

func (FileHeader) Read(basename string) (*model.MapHeader, error) {
	raw, err := os.ReadFile(Path(basename))
	if err != nil {
		return nil, fmt.Errorf("read map header: %w", err)
	}
	return Decode(raw)
}

func (FileHeader) Write(basename string, h *model.MapHeader) error {
	raw, err := Encode(h)
	if err != nil {
		return err
	}
	p := Path(basename)
	tmp := p + tmpExt
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write map header: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename map header: %w", err)
	}
	return nil
}

// Decode parses a header container. Unknown chunks are skipped; a missing
// MAIN chunk is an error since no tile can be addressed without it.
func Decode(raw []byte) (*model.MapHeader, error) {
	r := bytes.NewReader(raw)
	h := &model.MapHeader{}
	var sawMain bool

	for {
		var ch chunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: chunk header: %v", ErrCorruptHeader, err)
		}
		if int64(ch.Size) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: chunk %s overruns file", ErrCorruptHeader, ch.Magic[:])
		}
		payload := make([]byte, ch.Size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptHeader, ch.Magic[:], err)
		}

		switch ch.Magic {
		case magicVersion:
			if len(payload) < 4 {
				return nil, fmt.Errorf("%w: short MVER", ErrCorruptHeader)
			}
			if v := binary.LittleEndian.Uint32(payload); v != version {
				return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, v)
			}
		case magicHeader:
			if len(payload) < 4 {
				return nil, fmt.Errorf("%w: short MPHD", ErrCorruptHeader)
			}
			h.Flags = binary.LittleEndian.Uint32(payload)
		case magicMain:
			var entries [model.TileCount]mainEntry
			if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &entries); err != nil {
				return nil, fmt.Errorf("%w: MAIN: %v", ErrCorruptHeader, err)
			}
			for i, e := range entries {
				h.SetTileFlags(model.TileIndexFromLinear(i), e.Flags)
			}
			sawMain = true
		case magicWMOName:
			h.GlobalWMO = string(bytes.TrimRight(payload, "\x00"))
		case magicWMODef:
			var e modfEntry
			if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &e); err != nil {
				return nil, fmt.Errorf("%w: MODF: %v", ErrCorruptHeader, err)
			}
			h.WMOEntry = model.WMOInstance{
				UID:       e.UID,
				Model:     h.GlobalWMO,
				Position:  model.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
				Rotation:  model.Vec3{X: e.Rot[0], Y: e.Rot[1], Z: e.Rot[2]},
				DoodadSet: e.DoodadSet,
				NameSet:   e.NameSet,
			}
		}
	}

	if !sawMain {
		return nil, fmt.Errorf("%w: missing MAIN chunk", ErrCorruptHeader)
	}
	if h.WMOEntry.Model == "" {
		h.WMOEntry.Model = h.GlobalWMO
	}
	return h, nil
}

func Encode(h *model.MapHeader) ([]byte, error) {
	buf := new(bytes.Buffer)

	ver := make([]byte, 4)
	binary.LittleEndian.PutUint32(ver, version)
	if err := writeChunk(buf, magicVersion, ver); err != nil {
		return nil, err
	}

	mphd := make([]byte, 32)
	binary.LittleEndian.PutUint32(mphd, h.Flags)
	if err := writeChunk(buf, magicHeader, mphd); err != nil {
		return nil, err
	}

	var entries [model.TileCount]mainEntry
	for i := range entries {
		entries[i].Flags = h.TileFlags(model.TileIndexFromLinear(i))
	}
	mainBuf := new(bytes.Buffer)
	if err := binary.Write(mainBuf, binary.LittleEndian, &entries); err != nil {
		return nil, fmt.Errorf("encode MAIN: %w", err)
	}
	if err := writeChunk(buf, magicMain, mainBuf.Bytes()); err != nil {
		return nil, err
	}

	if h.GlobalWMO != "" {
		if err := writeChunk(buf, magicWMOName, append([]byte(h.GlobalWMO), 0)); err != nil {
			return nil, err
		}
		e := h.WMOEntry
		def := new(bytes.Buffer)
		err := binary.Write(def, binary.LittleEndian, modfEntry{
			UID:       e.UID,
			Pos:       [3]float32{e.Position.X, e.Position.Y, e.Position.Z},
			Rot:       [3]float32{e.Rotation.X, e.Rotation.Y, e.Rotation.Z},
			DoodadSet: e.DoodadSet,
			NameSet:   e.NameSet,
		})
		if err != nil {
			return nil, fmt.Errorf("encode MODF: %w", err)
		}
		if err := writeChunk(buf, magicWMODef, def.Bytes()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeChunk(w io.Writer, magic [4]byte, payload []byte) error {
	if err := binary.Write(w, binary.LittleEndian, chunkHeader{Magic: magic, Size: uint32(len(payload))}); err != nil {
		return fmt.Errorf("write chunk %s: %w", magic[:], err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write chunk %s: %w", magic[:], err)
	}
	return nil
}
