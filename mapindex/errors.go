package mapindex

import (
	"errors"
	"fmt"

	"terrain/api/model"
)

// ErrStaleTile is returned when a caller hands back a tile pointer that is
// no longer the one owned by its slot (it was unloaded or reloaded).
var ErrStaleTile = errors.New("tile pointer is no longer owned by the index")

// EvictionConflictError reports a dirty tile that could not be saved and was
// therefore kept in memory.
type EvictionConflictError struct {
	Index model.TileIndex
	Err   error
}

func (e *EvictionConflictError) Error() string {
	return fmt.Sprintf("evict tile %s: save failed, tile kept loaded: %v", e.Index, e.Err)
}

func (e *EvictionConflictError) Unwrap() error { return e.Err }

// UIDRecoveryError reports a persisted UID record that cannot be trusted.
// Callers fall back to a full scan.
type UIDRecoveryError struct {
	Reason string
	Err    error
}

func (e *UIDRecoveryError) Error() string {
	if e.Err == nil {
		return "uid record " + e.Reason
	}
	return fmt.Sprintf("uid record %s: %v", e.Reason, e.Err)
}

func (e *UIDRecoveryError) Unwrap() error { return e.Err }

// SaveError aggregates the failures of a save pass. Failed lists the tiles
// that are still dirty.
type SaveError struct {
	Failed []model.TileIndex
	Err    error
}

func (e *SaveError) Error() string {
	if len(e.Failed) == 0 {
		return "save pass failed: " + e.Err.Error()
	}
	return fmt.Sprintf("%d tile(s) failed to save: %v", len(e.Failed), e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }
