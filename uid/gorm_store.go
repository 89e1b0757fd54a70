package uid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"terrain/api/log"
	"terrain/api/model"
	"terrain/api/system"
)

// GormCounterStore keeps one counter row per map in MySQL and serializes
// reservations with SELECT ... FOR UPDATE.
type GormCounterStore struct {
	db *gorm.DB
}

func NewGormCounterStore(db *gorm.DB) (*GormCounterStore, error) {
	if db == nil {
		return nil, system.ErrDbNotInitialized
	}
	if err := db.AutoMigrate(&model.UIDCounter{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", model.TB_MAP_UID_COUNTER, err)
	}
	return &GormCounterStore{db: db}, nil
}

func (s *GormCounterStore) Reserve(ctx context.Context, mapID int, n uint32) (uint32, error) {
	var first uint32
	err := s.withCounter(ctx, mapID, func(tx *gorm.DB, row *model.UIDCounter) error {
		if row.HighestUID > math.MaxUint32-n {
			return ErrExhausted
		}
		first = row.HighestUID + 1
		row.HighestUID += n
		row.UpdateTime = time.Now()
		return tx.Save(row).Error
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

func (s *GormCounterStore) Raise(ctx context.Context, mapID int, atLeast uint32) error {
	return s.withCounter(ctx, mapID, func(tx *gorm.DB, row *model.UIDCounter) error {
		if row.HighestUID >= atLeast {
			return nil
		}
		row.HighestUID = atLeast
		row.UpdateTime = time.Now()
		return tx.Save(row).Error
	})
}

// withCounter runs fn on the locked counter row of mapID, creating the row
// on first use.
func (s *GormCounterStore) withCounter(ctx context.Context, mapID int, fn func(tx *gorm.DB, row *model.UIDCounter) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	committed := false
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			log.Error("uid counter panic ", r)
			err = fmt.Errorf("uid counter panic: %v", r)
			return
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var row model.UIDCounter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("map_id = ?", mapID).
		First(&row).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row = model.UIDCounter{MapID: mapID, UpdateTime: time.Now()}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	if err := fn(tx, &row); err != nil {
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return err
	}
	committed = true
	return nil
}
