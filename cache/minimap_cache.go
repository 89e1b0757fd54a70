package mycache

import (
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"terrain/api/model"
)

const minimapTTL = 30 * time.Minute

// Minimap is a downsampled height preview of one tile.
type Minimap struct {
	Index   model.TileIndex `json:"index"`
	Size    int             `json:"size"`
	Pixels  []uint8         `json:"pixels"`
	Updated time.Time       `json:"updated"`
}

var MinimapCache *ristretto.Cache[string, *Minimap]

func init() {
	cache, err := ristretto.NewCache[string, *Minimap](&ristretto.Config[string, *Minimap]{
		NumCounters: 64 * 64 * 10,
		MaxCost:     16 * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	MinimapCache = cache
}

func minimapCacheKey(mapID int, idx model.TileIndex) string {
	return strconv.Itoa(mapID) + "|" + idx.String()
}

func GetMinimap(mapID int, idx model.TileIndex) (*Minimap, bool) {
	MinimapCache.Wait()
	return MinimapCache.Get(minimapCacheKey(mapID, idx))
}

func SetMinimap(mapID int, m *Minimap) {
	if m == nil {
		return
	}
	cost := int64(len(m.Pixels))
	if cost == 0 {
		cost = 1
	}
	MinimapCache.SetWithTTL(minimapCacheKey(mapID, m.Index), m, cost, minimapTTL)
	MinimapCache.Wait()
}

func DelMinimap(mapID int, idx model.TileIndex) {
	MinimapCache.Del(minimapCacheKey(mapID, idx))
}
