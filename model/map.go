package model

import (
	"time"
)

// Existence flags of a tile slot, as stored in the map header.
const (
	FlagHasTerrain uint32 = 0x1
	FlagNoADT      uint32 = 0x2 // hole: never materialized
	FlagGlobalWMO  uint32 = 0x4
)

// Map header flags.
const (
	HeaderGlobalWMO       uint32 = 0x1
	HeaderBigAlpha        uint32 = 0x4
	HeaderSortBySizeClass uint32 = 0x8
)

const TB_MAP_UID_COUNTER = "map_uid_counter"

// MapHeader is the per-map container read at construction time.
type MapHeader struct {
	Flags     uint32
	Tiles     [GridSize][GridSize]uint32 // [z][x]
	GlobalWMO string
	WMOEntry  WMOInstance
}

func (h *MapHeader) TileFlags(idx TileIndex) uint32 { return h.Tiles[idx.Z][idx.X] }

func (h *MapHeader) SetTileFlags(idx TileIndex, flags uint32) { h.Tiles[idx.Z][idx.X] = flags }

// HasAnyTile reports whether at least one coordinate carries terrain.
func (h *MapHeader) HasAnyTile() bool {
	for z := range h.Tiles {
		for x := range h.Tiles[z] {
			if TileHasTerrain(h.Tiles[z][x]) {
				return true
			}
		}
	}
	return false
}

// TileHasTerrain is the existence rule shared by the header and the index.
func TileHasTerrain(flags uint32) bool {
	return flags&FlagHasTerrain != 0 && flags&FlagNoADT == 0
}

// ModelInstance is a doodad placed on a tile.
type ModelInstance struct {
	UID      uint32  `json:"uid"`
	Model    string  `json:"model"`
	Position Vec3    `json:"pos"`
	Rotation Vec3    `json:"rot"`
	Scale    float32 `json:"scale"`
}

// WMOInstance is a large static structure placed on a tile or globally.
type WMOInstance struct {
	UID       uint32 `json:"uid"`
	Model     string `json:"model"`
	Position  Vec3   `json:"pos"`
	Rotation  Vec3   `json:"rot"`
	DoodadSet uint16 `json:"doodad_set"`
	NameSet   uint16 `json:"name_set"`
}

// ChangeState is what getChanged reports for a slot.
type ChangeState int

const (
	NotLoaded ChangeState = iota
	LoadedClean
	LoadedDirty
)

func (s ChangeState) String() string {
	switch s {
	case LoadedClean:
		return "clean"
	case LoadedDirty:
		return "dirty"
	default:
		return "not_loaded"
	}
}

// UIDCounter is the shared counter row used when several editors work on
// the same map.
type UIDCounter struct {
	MapID      int       `gorm:"column:map_id;primary_key" json:"map_id"`
	HighestUID uint32    `gorm:"column:highest_uid" json:"highest_uid"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`
}

func (UIDCounter) TableName() string {
	return TB_MAP_UID_COUNTER
}
