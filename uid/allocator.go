package uid

import (
	"context"
	"errors"
	"math"
)

var (
	ErrNotSeeded            = errors.New("uid allocator not seeded")
	ErrExhausted            = errors.New("uid space exhausted")
	ErrAllocatorUnavailable = errors.New("uid allocator unavailable")
)

// Allocator hands out object UIDs that are unique across a whole map.
// UID 0 is never issued.
type Allocator interface {
	// Next returns a fresh UID. It never returns a value it handed out
	// before and fails rather than risk a duplicate.
	Next(ctx context.Context) (uint32, error)
	// Seed guarantees that every later UID is >= next. It never lowers
	// the allocator.
	Seed(ctx context.Context, next uint32) error
	// High is the next UID this allocator expects to issue, 0 while unseeded.
	High() uint32
}

// Local is the single-process allocator.
type Local struct {
	high uint32
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Next(context.Context) (uint32, error) {
	if l.high == 0 {
		return 0, ErrNotSeeded
	}
	if l.high == math.MaxUint32 {
		return 0, ErrExhausted
	}
	id := l.high
	l.high++
	return id, nil
}

func (l *Local) Seed(_ context.Context, next uint32) error {
	l.high = max(l.high, next, 1)
	return nil
}

func (l *Local) High() uint32 { return l.high }

// SeedAbove seeds a so its next UID is highest+1. It fails with
// ErrExhausted when highest is the last representable UID.
func SeedAbove(ctx context.Context, a Allocator, highest uint32) error {
	if highest == math.MaxUint32 {
		return ErrExhausted
	}
	return a.Seed(ctx, highest+1)
}
