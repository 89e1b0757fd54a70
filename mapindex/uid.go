package mapindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"time"

	"go.uber.org/multierr"

	"terrain/api/log"
	"terrain/api/model"
	"terrain/api/tile"
	"terrain/api/uid"
)

const (
	uidRecordExt  = ".uid"
	uidRecordSize = 12
)

var uidRecordMagic = [4]byte{'M', 'U', 'I', 'D'}

// UIDRecordPath is where the highest issued UID of a map is kept.
func UIDRecordPath(basename string) string { return basename + uidRecordExt }

// FixReport summarizes a FixUIDs run.
type FixReport struct {
	Scanned    int               `json:"scanned"`
	Reassigned int               `json:"reassigned"`
	Tiles      []model.TileIndex `json:"tiles"`
	Failed     []model.TileIndex `json:"failed"`
}

// NewGUID hands out the next object UID.
func (m *MapIndex) NewGUID(ctx context.Context) (uint32, error) {
	id, err := m.alloc.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("map %d: new uid: %w", m.mapID, err)
	}
	return id, nil
}

// LoadMaxUID seeds the allocator from the UID record. A missing, corrupt or
// outdated record yields a *UIDRecoveryError.
func (m *MapIndex) LoadMaxUID(ctx context.Context) error {
	p := UIDRecordPath(m.basename)
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return &UIDRecoveryError{Reason: "missing", Err: err}
	}
	if err != nil {
		return &UIDRecoveryError{Reason: "unreadable", Err: err}
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return &UIDRecoveryError{Reason: "unreadable", Err: err}
	}
	stored, err := decodeUIDRecord(raw)
	if err != nil {
		return &UIDRecoveryError{Reason: "corrupt", Err: err}
	}
	if newest := m.newestTileWrite(); newest.After(fi.ModTime()) {
		return &UIDRecoveryError{Reason: "stale", Err: fmt.Errorf("tiles written at %s after record at %s", newest.Format(time.RFC3339Nano), fi.ModTime().Format(time.RFC3339Nano))}
	}
	if err := uid.SeedAbove(ctx, m.alloc, stored); err != nil {
		return fmt.Errorf("map %d: seed uid allocator: %w", m.mapID, err)
	}
	log.Infof("map %d: uid allocator seeded at %d from record", m.mapID, m.alloc.High())
	return nil
}

func (m *MapIndex) newestTileWrite() time.Time {
	var newest time.Time
	for i := range m.slots {
		if !m.slots[i].onDisc {
			continue
		}
		mt, err := m.tiles.ModTime(m.basename, model.TileIndexFromLinear(i))
		if err == nil && mt.After(newest) {
			newest = mt
		}
	}
	return newest
}

// SearchMaxUID scans every tile file on disk, holes included, and every
// tile in memory and seeds the allocator one above the highest UID found.
// Unreadable tiles are skipped.
func (m *MapIndex) SearchMaxUID(ctx context.Context) error {
	var hi uint32
	if m.hasGlobalWMO {
		hi = m.header.WMOEntry.UID
	}
	var scanned, skipped int
	for i := range m.slots {
		s := &m.slots[i]
		if s.tile != nil {
			hi = max(hi, s.tile.MaxUID())
			scanned++
			continue
		}
		// files of slots flagged as holes still count, the hole may be undone
		if !s.onDisc {
			continue
		}
		idx := model.TileIndexFromLinear(i)
		highest, err := m.tiles.HighestUID(m.basename, m.mapID, idx)
		if err != nil {
			log.Warnf("map %d: uid scan skips tile %s: %v", m.mapID, idx, err)
			skipped++
			continue
		}
		hi = max(hi, highest)
		scanned++
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := uid.SeedAbove(ctx, m.alloc, hi); err != nil {
		return fmt.Errorf("map %d: seed uid allocator: %w", m.mapID, err)
	}
	log.Infof("map %d: uid scan over %d tiles (%d skipped) found %d, next uid %d", m.mapID, scanned, skipped, hi, m.alloc.High())
	return m.SaveMaxUID()
}

// SaveMaxUID persists the highest UID issued so far.
func (m *MapIndex) SaveMaxUID() error {
	var issued uint32
	if h := m.alloc.High(); h > 0 {
		issued = h - 1
	}
	p := UIDRecordPath(m.basename)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, encodeUIDRecord(issued), 0o644); err != nil {
		return fmt.Errorf("write uid record: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename uid record: %w", err)
	}
	return nil
}

// FixUIDs gives every zero or duplicated placement UID a fresh value. Tiles
// are visited in raster order and the first holder of a UID keeps it; the
// global WMO always keeps its own. Loaded tiles are marked dirty, tiles that
// were not loaded are rewritten and released again.
func (m *MapIndex) FixUIDs(ctx context.Context, w World) (*FixReport, error) {
	if err := m.SearchMaxUID(ctx); err != nil {
		return nil, err
	}
	w = m.sink(w)
	report := &FixReport{}
	seen := make(map[uint32]struct{})
	if m.hasGlobalWMO && m.header.WMOEntry.UID != 0 {
		seen[m.header.WMOEntry.UID] = struct{}{}
	}

	var errs error
	for i := range m.slots {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		s := &m.slots[i]
		if !model.TileHasTerrain(s.flags) || (s.tile == nil && !s.onDisc) {
			continue
		}
		idx := model.TileIndexFromLinear(i)
		resident := s.tile != nil
		t, err := m.LoadTile(idx)
		if err != nil {
			report.Failed = append(report.Failed, idx)
			errs = multierr.Append(errs, err)
			continue
		}
		report.Scanned++

		n, err := m.fixTileUIDs(ctx, t, seen)
		report.Reassigned += n
		if n > 0 {
			report.Tiles = append(report.Tiles, idx)
			s.changed = true
			m.changed = true
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if !resident {
			if err := m.unload(idx, w); err != nil {
				report.Failed = append(report.Failed, idx)
				errs = multierr.Append(errs, err)
			}
		}
	}
	log.Infof("map %d: uid repair scanned %d tiles, reassigned %d uids on %d tiles", m.mapID, report.Scanned, report.Reassigned, len(report.Tiles))
	return report, multierr.Append(errs, m.SaveMaxUID())
}

func (m *MapIndex) fixTileUIDs(ctx context.Context, t *tile.Tile, seen map[uint32]struct{}) (int, error) {
	var (
		fixed int
		err   error
	)
	t.EachUID(func(u *uint32) {
		if err != nil {
			return
		}
		if _, dup := seen[*u]; *u == 0 || dup {
			var id uint32
			if id, err = m.alloc.Next(ctx); err != nil {
				return
			}
			*u = id
			fixed++
		}
		seen[*u] = struct{}{}
	})
	return fixed, err
}

func encodeUIDRecord(issued uint32) []byte {
	buf := make([]byte, uidRecordSize)
	copy(buf, uidRecordMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], issued)
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(buf[:8]))
	return buf
}

func decodeUIDRecord(raw []byte) (uint32, error) {
	if len(raw) != uidRecordSize {
		return 0, fmt.Errorf("record is %d bytes, want %d", len(raw), uidRecordSize)
	}
	if !bytes.Equal(raw[:4], uidRecordMagic[:]) {
		return 0, errors.New("bad magic")
	}
	if crc32.ChecksumIEEE(raw[:8]) != binary.LittleEndian.Uint32(raw[8:12]) {
		return 0, errors.New("checksum mismatch")
	}
	return binary.LittleEndian.Uint32(raw[4:8]), nil
}

// HighGUID is the next UID the allocator expects to hand out.
func (m *MapIndex) HighGUID() uint32 { return m.alloc.High() }
