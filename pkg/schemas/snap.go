package schemas

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

// SnapTile is the POST hook domain schemas append to the global chain. It
// snaps the working region outward to the delivery tile grid, enumerates
// the tiles covering it, stamps each surviving entry with the tile set, and
// writes a tile manifest for the gridding stage.
type SnapTile struct {
	region   recipe.Region
	tileSize float64
	cellSize float64
	srs      string
	manifest string
}

// Tile is one delivery tile in the manifest.
type Tile struct {
	Name   string        `json:"name"`
	Region recipe.Region `json:"region"`
}

// NewSnapTile is the hook factory for "snap_tile". The region, tile_size,
// and srs args are normally injected by a domain schema rather than written
// by hand.
func NewSnapTile(args map[string]interface{}) (engine.Hook, error) {
	h := &SnapTile{
		tileSize: floatArg(args, "tile_size", cudemTileSize),
		cellSize: floatArg(args, "cell_size", cudemCellSize),
		manifest: "tiles.json",
	}
	if v, ok := args["srs"].(string); ok {
		h.srs = v
	}
	if v, ok := args["manifest"].(string); ok {
		h.manifest = v
	}
	if h.tileSize <= 0 {
		return nil, engine.NewPermanentError("snap_tile tile_size must be positive", nil).
			WithCode(engine.ErrCodeConfig)
	}

	raw, ok := args["region"].([]interface{})
	if !ok || len(raw) != 4 {
		return nil, engine.NewPermanentError(
			"snap_tile requires a region arg of 4 bounds", nil).
			WithCode(engine.ErrCodeConfig)
	}
	bounds := make([]float64, 4)
	for i, v := range raw {
		switch n := v.(type) {
		case float64:
			bounds[i] = n
		case int:
			bounds[i] = float64(n)
		default:
			return nil, engine.NewPermanentError(
				fmt.Sprintf("snap_tile region bound %d is not numeric", i), nil).
				WithCode(engine.ErrCodeConfig)
		}
	}
	h.region = recipe.Region{West: bounds[0], East: bounds[1], South: bounds[2], North: bounds[3]}
	if !h.region.Valid() {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("snap_tile region %s is inverted", h.region), nil).
			WithCode(engine.ErrCodeConfig)
	}
	return h, nil
}

// Name implements engine.Hook.
func (h *SnapTile) Name() string { return "snap_tile" }

// Post implements engine.PostHook.
func (h *SnapTile) Post(ctx context.Context, entries []*engine.Entry) ([]*engine.Entry, error) {
	snapped := h.Snap(h.region)
	tiles := h.Tiles(snapped)

	names := make([]string, len(tiles))
	for i, t := range tiles {
		names[i] = t.Name
	}
	for _, e := range entries {
		e.SetMeta("tiles", names)
		if h.srs != "" {
			e.SetMeta("srs", h.srs)
		}
	}

	data, err := json.MarshalIndent(struct {
		SRS    string        `json:"srs,omitempty"`
		Region recipe.Region `json:"region"`
		Tiles  []Tile        `json:"tiles"`
	}{h.srs, snapped, tiles}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tile manifest: %w", err)
	}
	if err := os.WriteFile(h.manifest, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing tile manifest: %w", err)
	}
	return entries, nil
}

// Snap expands r outward to the enclosing tile-grid lines.
func (h *SnapTile) Snap(r recipe.Region) recipe.Region {
	return recipe.Region{
		West:  math.Floor(r.West/h.tileSize) * h.tileSize,
		South: math.Floor(r.South/h.tileSize) * h.tileSize,
		East:  math.Ceil(r.East/h.tileSize) * h.tileSize,
		North: math.Ceil(r.North/h.tileSize) * h.tileSize,
	}
}

// Tiles enumerates the delivery tiles covering a grid-aligned region, west
// to east then south to north.
func (h *SnapTile) Tiles(r recipe.Region) []Tile {
	var tiles []Tile
	for s := r.South; s < r.North-h.tileSize/2; s += h.tileSize {
		for w := r.West; w < r.East-h.tileSize/2; w += h.tileSize {
			t := recipe.Region{West: w, East: w + h.tileSize, South: s, North: s + h.tileSize}
			tiles = append(tiles, Tile{Name: tileName(t), Region: t})
		}
	}
	return tiles
}

// tileName follows the hemisphere-prefixed corner convention, e.g. the tile
// with its northwest corner at 33.25N 120.00W is "n33x25_w120x00".
func tileName(t recipe.Region) string {
	return fmt.Sprintf("%s_%s", latToken(t.North), lonToken(t.West))
}

func latToken(v float64) string {
	hemi := "n"
	if v < 0 {
		hemi, v = "s", -v
	}
	deg := math.Floor(v)
	frac := math.Round((v - deg) * 100)
	return fmt.Sprintf("%s%02dx%02d", hemi, int(deg), int(frac))
}

func lonToken(v float64) string {
	hemi := "e"
	if v < 0 {
		hemi, v = "w", -v
	}
	deg := math.Floor(v)
	frac := math.Round((v - deg) * 100)
	return fmt.Sprintf("%s%03dx%02d", hemi, int(deg), int(frac))
}

func floatArg(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
