package schemas

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

func snapArgs(w, e, s, n float64) map[string]interface{} {
	return map[string]interface{}{
		"region":    []interface{}{w, e, s, n},
		"tile_size": 0.25,
		"srs":       cudemSRS,
	}
}

func newSnap(t *testing.T, args map[string]interface{}) *SnapTile {
	t.Helper()
	h, err := NewSnapTile(args)
	if err != nil {
		t.Fatalf("NewSnapTile: %v", err)
	}
	return h.(*SnapTile)
}

func TestNewSnapTileValidation(t *testing.T) {
	if _, err := NewSnapTile(map[string]interface{}{"tile_size": 0.25}); err == nil {
		t.Error("missing region accepted")
	}
	if _, err := NewSnapTile(map[string]interface{}{
		"region": []interface{}{-120.0, -119.0, 33.0},
	}); err == nil {
		t.Error("3-bound region accepted")
	}
	if _, err := NewSnapTile(map[string]interface{}{
		"region": []interface{}{-120.0, -119.0, 33.0, "north"},
	}); err == nil {
		t.Error("non-numeric bound accepted")
	}
	if _, err := NewSnapTile(map[string]interface{}{
		"region": []interface{}{-119.0, -120.0, 33.0, 34.0},
	}); err == nil {
		t.Error("inverted region accepted")
	}
	if _, err := NewSnapTile(map[string]interface{}{
		"region":    []interface{}{-120.0, -119.0, 33.0, 34.0},
		"tile_size": -1.0,
	}); err == nil {
		t.Error("negative tile size accepted")
	}
}

func TestSnapExpandsOutwardToGrid(t *testing.T) {
	h := newSnap(t, snapArgs(-119.95, -119.30, 33.05, 33.70))
	got := h.Snap(recipe.Region{West: -119.95, East: -119.30, South: 33.05, North: 33.70})
	want := recipe.Region{West: -120, East: -119.25, South: 33, North: 33.75}
	eps := 1e-9
	if math.Abs(got.West-want.West) > eps || math.Abs(got.East-want.East) > eps ||
		math.Abs(got.South-want.South) > eps || math.Abs(got.North-want.North) > eps {
		t.Errorf("snapped = %v, want %v", got, want)
	}
}

func TestTilesEnumerationOrder(t *testing.T) {
	h := newSnap(t, snapArgs(-120, -119.5, 33, 33.5))
	tiles := h.Tiles(recipe.Region{West: -120, East: -119.5, South: 33, North: 33.5})
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles, want 4", len(tiles))
	}
	// West to east, then south to north.
	wantNames := []string{"n33x25_w120x00", "n33x25_w119x75", "n33x50_w120x00", "n33x50_w119x75"}
	for i, want := range wantNames {
		if tiles[i].Name != want {
			t.Errorf("tile %d = %s, want %s", i, tiles[i].Name, want)
		}
	}
}

func TestTileNameHemispheres(t *testing.T) {
	tests := []struct {
		region recipe.Region
		want   string
	}{
		{recipe.Region{West: -120, East: -119.75, South: 33, North: 33.25}, "n33x25_w120x00"},
		{recipe.Region{West: 119.75, East: 120, South: -33.25, North: -33}, "s33x00_e119x75"},
		{recipe.Region{West: -0.25, East: 0, South: -0.25, North: 0}, "n00x00_w000x25"},
	}
	for _, tt := range tests {
		if got := tileName(tt.region); got != tt.want {
			t.Errorf("tileName(%v) = %s, want %s", tt.region, got, tt.want)
		}
	}
}

func TestSnapTilePostWritesManifestAndStampsEntries(t *testing.T) {
	dir := t.TempDir()
	args := snapArgs(-119.9, -119.6, 33.1, 33.4)
	args["manifest"] = filepath.Join(dir, "tiles.json")
	h := newSnap(t, args)

	entries := []*engine.Entry{
		engine.NewEntry("src/a.tif", filepath.Join(dir, "a.tif")),
		engine.NewEntry("src/b.tif", filepath.Join(dir, "b.tif")),
	}
	out, err := h.Post(context.Background(), entries)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("post returned %d entries, want 2", len(out))
	}

	for _, e := range entries {
		tiles, ok := e.GetMeta("tiles")
		if !ok {
			t.Fatalf("entry %s missing tiles meta", e.URL)
		}
		names, ok := tiles.([]string)
		if !ok || len(names) != 4 {
			t.Errorf("entry %s tiles = %v, want 4 names", e.URL, tiles)
		}
		if srs, _ := e.GetMeta("srs"); srs != cudemSRS {
			t.Errorf("entry %s srs = %v", e.URL, srs)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "tiles.json"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var manifest struct {
		SRS    string `json:"srs"`
		Region recipe.Region `json:"region"`
		Tiles  []Tile `json:"tiles"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if manifest.SRS != cudemSRS {
		t.Errorf("manifest srs = %s", manifest.SRS)
	}
	if len(manifest.Tiles) != 4 {
		t.Errorf("manifest has %d tiles, want 4", len(manifest.Tiles))
	}
	// The manifest region is the grid-snapped one.
	if manifest.Region.West != -120 || manifest.Region.North != 33.5 {
		t.Errorf("manifest region = %v", manifest.Region)
	}
}
