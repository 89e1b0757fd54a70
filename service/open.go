package service

import (
	"context"
	"fmt"

	"terrain/api/config"
	"terrain/api/header"
	"terrain/api/log"
	"terrain/api/mapindex"
	"terrain/api/system"
	"terrain/api/tile"
	"terrain/api/uid"
)

// NewAllocator builds the uid backend named by the configuration.
func NewAllocator(cfg *config.Config) (uid.Allocator, error) {
	switch cfg.UID.Backend {
	case "db":
		db, err := system.InitDb(cfg.DB)
		if err != nil {
			return nil, err
		}
		store, err := uid.NewGormCounterStore(db)
		if err != nil {
			return nil, err
		}
		log.Infof("uid backend: shared counter, block size %d", cfg.UID.BlockSize)
		return uid.NewDB(store, cfg.Map.ID, cfg.UID.BlockSize), nil
	case "", "local":
		return uid.NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown uid backend %q", cfg.UID.Backend)
	}
}

// Open opens the configured map and wraps it in a session.
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	alloc, err := NewAllocator(cfg)
	if err != nil {
		return nil, err
	}
	hub := NewHub()
	world := NewMinimapWorld(cfg.Map.ID, hub)
	index, err := mapindex.New(ctx, cfg.Map.Basename, cfg.Map.ID, mapindex.Options{
		Tiles:          tile.NewFileStore(),
		Header:         header.NewFileHeader(),
		Allocator:      alloc,
		World:          world,
		UnloadDistance: cfg.Index.UnloadDistance,
		UnloadInterval: cfg.Index.UnloadInterval,
	})
	if err != nil {
		return nil, err
	}
	return NewSession(index, world, hub), nil
}
