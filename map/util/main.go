package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"terrain/api/config"
	"terrain/api/header"
	"terrain/api/log"
	"terrain/api/model"
	"terrain/api/service"
)

func main() {
	cfgPath := flag.String("config", "", "Optional yaml config (map/uid/db sections)")
	cmd := flag.String("cmd", "info", "new | info | searchuid | fixuids | alpha")
	basename := flag.String("map", "", "Map basename (overrides config)")
	mapID := flag.Int("map-id", -1, "Map ID (overrides config)")
	tiles := flag.String("tiles", "", "For -cmd new: terrain tiles as x_z,x_z,...")
	big := flag.Bool("big", false, "For -cmd new / alpha: use 8-bit alpha")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	must(err)
	if *basename != "" {
		cfg.Map.Basename = *basename
	}
	if *mapID >= 0 {
		cfg.Map.ID = *mapID
	}
	if cfg.Map.Basename == "" {
		must(fmt.Errorf("-map or map.basename is required"))
	}
	log.Setup(log.Options{Level: cfg.Log.Level})
	ctx := context.Background()

	if *cmd == "new" {
		must(createMap(cfg.Map.Basename, *tiles, *big))
		fmt.Println("OK\nheader:", header.Path(cfg.Map.Basename))
		return
	}

	s, err := service.Open(ctx, cfg)
	must(err)

	switch *cmd {
	case "info":
		printInfo(s.Info())
	case "searchuid":
		next, err := s.SearchMaxUID(ctx)
		must(err)
		fmt.Println("next uid:", next)
	case "fixuids":
		report, err := s.FixUIDs(ctx)
		if report != nil {
			fmt.Printf("scanned %d tiles, reassigned %d uids on %d tiles\n", report.Scanned, report.Reassigned, len(report.Tiles))
			for _, idx := range report.Failed {
				fmt.Fprintln(os.Stderr, "warn: tile", idx, "not repaired")
			}
		}
		must(err)
		must(s.SaveChanged())
	case "alpha":
		must(s.ConvertAlphamap(*big))
		must(s.SaveChanged())
		fmt.Println("big alpha:", *big)
	default:
		must(fmt.Errorf("unknown -cmd %q", *cmd))
	}
}

// createMap writes an empty header declaring the given tiles.
func createMap(basename, tiles string, big bool) error {
	if _, err := os.Stat(header.Path(basename)); err == nil {
		return fmt.Errorf("%s already exists", header.Path(basename))
	}
	h := &model.MapHeader{}
	if big {
		h.Flags |= model.HeaderBigAlpha
	}
	for _, spec := range strings.Split(tiles, ",") {
		if spec = strings.TrimSpace(spec); spec == "" {
			continue
		}
		idx, err := parseTile(spec)
		if err != nil {
			return err
		}
		h.SetTileFlags(idx, model.FlagHasTerrain)
	}
	return header.NewFileHeader().Write(basename, h)
}

func parseTile(s string) (model.TileIndex, error) {
	x, z, ok := strings.Cut(s, "_")
	if !ok {
		return model.TileIndex{}, fmt.Errorf("bad tile %q, want x_z", s)
	}
	xi, errX := strconv.Atoi(x)
	zi, errZ := strconv.Atoi(z)
	idx := model.TileIndex{X: xi, Z: zi}
	if errX != nil || errZ != nil || !idx.Valid() {
		return idx, fmt.Errorf("bad tile %q", s)
	}
	return idx, nil
}

func printInfo(info service.MapInfo) {
	fmt.Printf("map_id: %d\nbasename: %s\ntiles: %d\nbig alpha: %v\nglobal wmo: %v\nnext uid: %d\n",
		info.MapID, info.Basename, info.Tiles, info.BigAlpha, info.GlobalWMO, info.NextUID)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
