package mycache

import (
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// UIDCache remembers the highest object UID of a tile file so repeated full
// scans only decode files that changed since the last scan.
var UIDCache *ristretto.Cache[string, uint32]

func init() {
	cache, err := ristretto.NewCache[string, uint32](&ristretto.Config[string, uint32]{
		NumCounters: 64 * 64 * 10,
		MaxCost:     64 * 64 * 4,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	UIDCache = cache
}

// the key changes whenever the file is rewritten
func uidCacheKey(path string, modTime time.Time, size int64) string {
	return path + "|" + strconv.FormatInt(modTime.UnixNano(), 10) + "|" + strconv.FormatInt(size, 10)
}

func GetHighestUID(path string, modTime time.Time, size int64) (uint32, bool) {
	return UIDCache.Get(uidCacheKey(path, modTime, size))
}

func SetHighestUID(path string, modTime time.Time, size int64, uid uint32) {
	UIDCache.Set(uidCacheKey(path, modTime, size), uid, 1)
	UIDCache.Wait()
}
