package system

import (
	"errors"
	"fmt"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"terrain/api/config"
	"terrain/api/log"
)

var (
	dbMu sync.RWMutex
	db   *gorm.DB
)

var ErrDbNotInitialized = errors.New("database not initialized")

// InitDb opens the shared MySQL connection used by the db uid backend.
func InitDb(c config.DBConfig) (*gorm.DB, error) {
	g, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(c.MaxOpen)
	sqlDB.SetMaxIdleConns(c.MaxIdle)
	sqlDB.SetConnMaxLifetime(c.MaxLifetime)

	dbMu.Lock()
	db = g
	dbMu.Unlock()
	log.Info("mysql connected, max_open=", c.MaxOpen)
	return g, nil
}

// GetDb returns the shared handle, nil if InitDb was never called.
func GetDb() *gorm.DB {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return db
}

func CloseDb() error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	db = nil
	return sqlDB.Close()
}
