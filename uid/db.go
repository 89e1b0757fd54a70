package uid

import (
	"context"
	"fmt"
	"math"

	"terrain/api/log"
)

// CounterStore is the shared counter several editors reserve UIDs from.
type CounterStore interface {
	// Reserve advances the counter of mapID by n and returns the first
	// reserved UID.
	Reserve(ctx context.Context, mapID int, n uint32) (uint32, error)
	// Raise lifts the counter so that its highest issued UID is at least
	// atLeast.
	Raise(ctx context.Context, mapID int, atLeast uint32) error
}

// DB reserves blocks of UIDs from a shared counter so concurrent editors of
// the same map never collide. Any failure to reach the counter fails the
// allocation.
type DB struct {
	store     CounterStore
	mapID     int
	blockSize uint32

	next       uint32 // next UID of the reserved block
	limit      uint32 // end of the reserved block, exclusive
	floor      uint32
	lastIssued uint32
}

func NewDB(store CounterStore, mapID int, blockSize uint32) *DB {
	if blockSize == 0 {
		blockSize = 1
	}
	return &DB{store: store, mapID: mapID, blockSize: blockSize}
}

func (d *DB) Next(ctx context.Context) (uint32, error) {
	if d.next < d.floor || d.next >= d.limit {
		if err := d.reserve(ctx); err != nil {
			return 0, err
		}
	}
	id := d.next
	d.next++
	d.lastIssued = max(d.lastIssued, id)
	return id, nil
}

func (d *DB) reserve(ctx context.Context) error {
	first, err := d.store.Reserve(ctx, d.mapID, d.blockSize)
	if err != nil {
		d.next, d.limit = 0, 0
		log.Errorf("uid: reserve block for map %d failed: %v", d.mapID, err)
		return fmt.Errorf("%w: %v", ErrAllocatorUnavailable, err)
	}
	if first == 0 || first < d.floor {
		d.next, d.limit = 0, 0
		return fmt.Errorf("%w: counter returned %d below floor %d", ErrAllocatorUnavailable, first, d.floor)
	}
	if first > math.MaxUint32-d.blockSize {
		return ErrExhausted
	}
	d.next, d.limit = first, first+d.blockSize
	log.Debugf("uid: map %d reserved [%d, %d)", d.mapID, d.next, d.limit)
	return nil
}

func (d *DB) Seed(ctx context.Context, next uint32) error {
	next = max(next, 1)
	if err := d.store.Raise(ctx, d.mapID, next-1); err != nil {
		return fmt.Errorf("%w: %v", ErrAllocatorUnavailable, err)
	}
	d.floor = max(d.floor, next)
	if d.next < d.floor {
		// the reserved block overlaps ids that are already in use
		d.next, d.limit = 0, 0
	}
	return nil
}

// High never reports less than one above the last UID handed out, even
// once the reserved block is used up.
func (d *DB) High() uint32 {
	high := d.floor
	if d.lastIssued > 0 {
		high = max(high, d.lastIssued+1)
	}
	if d.next < d.limit {
		high = max(high, d.next)
	}
	return high
}
