package fred

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fetchez/fetchez/pkg/recipe"
)

func sampleSurveys() []Survey {
	return []Survey{
		{
			Name:       "socal_dem_2019",
			ID:         "ncei-socal-2019",
			Agency:     "NOAA",
			DataLink:   "https://example.com/socal.tif",
			DataType:   "dem",
			DataSource: "ncei",
			Footprint:  recipe.Region{West: -120, East: -119, South: 33, North: 34},
		},
		{
			Name:       "gulf_lidar_2021",
			ID:         "usace-gulf-2021",
			Agency:     "USACE",
			DataLink:   "https://example.com/gulf.laz",
			DataType:   "lidar",
			DataSource: "usace",
			Footprint:  recipe.Region{West: -90, East: -89, South: 28, North: 29},
		},
		{
			Name:       "socal_lidar_2020",
			ID:         "usace-socal-2020",
			Agency:     "USACE",
			DataLink:   "https://example.com/socal.laz",
			DataType:   "lidar",
			DataSource: "usace",
			Footprint:  recipe.Region{West: -119.5, East: -118.5, South: 33.5, North: 34.5},
		},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "fred.geojson"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, s := range sampleSurveys() {
		idx.Add(s)
	}
	return idx
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "absent.geojson"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("len = %d, want 0", idx.Len())
	}
}

func TestSaveOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "fred.geojson")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, s := range sampleSurveys() {
		idx.Add(s)
	}
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	back, err := Open(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	if back.Len() != 3 {
		t.Fatalf("len = %d after round trip, want 3", back.Len())
	}
	got, err := back.Search(Filter{DataType: "dem"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ncei-socal-2019" {
		t.Fatalf("dem search = %+v", got)
	}
	fp := got[0].Footprint
	if fp.West != -120 || fp.East != -119 || fp.South != 33 || fp.North != 34 {
		t.Errorf("footprint lost in round trip: %v", fp)
	}
}

func TestAddReplacesByID(t *testing.T) {
	idx := newTestIndex(t)
	idx.Add(Survey{
		ID:       "ncei-socal-2019",
		Name:     "socal_dem_2019_v2",
		DataLink: "https://example.com/socal_v2.tif",
	})
	if idx.Len() != 3 {
		t.Errorf("len = %d after replacement, want 3", idx.Len())
	}
	got, _ := idx.Search(Filter{Where: "ID = 'ncei-socal-2019'"})
	if len(got) != 1 || got[0].Name != "socal_dem_2019_v2" {
		t.Errorf("replaced survey = %+v", got)
	}
}

func TestSearchByRegion(t *testing.T) {
	idx := newTestIndex(t)
	socal := recipe.Region{West: -119.8, East: -119.2, South: 33.2, North: 33.8}
	got, err := idx.Search(Filter{Region: &socal})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("region search = %d surveys, want the 2 socal ones", len(got))
	}
	for _, s := range got {
		if !strings.HasPrefix(s.Name, "socal") {
			t.Errorf("unexpected survey %s", s.Name)
		}
	}
}

func TestSearchCombinesFilters(t *testing.T) {
	idx := newTestIndex(t)
	socal := recipe.Region{West: -119.8, East: -119.2, South: 33.2, North: 33.8}
	got, err := idx.Search(Filter{Region: &socal, DataType: "lidar", DataSource: "usace"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "usace-socal-2020" {
		t.Errorf("combined search = %+v", got)
	}
}

func TestSearchWhereConjunction(t *testing.T) {
	idx := newTestIndex(t)
	got, err := idx.Search(Filter{Where: "Agency = 'USACE' AND DataType = 'lidar'"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("where search = %d surveys, want 2", len(got))
	}
}

func TestSearchWhereUnparseable(t *testing.T) {
	idx := newTestIndex(t)
	if _, err := idx.Search(Filter{Where: "Agency LIKE noaa"}); err == nil {
		t.Error("unparseable where clause accepted")
	}
}

func TestNewSurveyIDStable(t *testing.T) {
	id := NewSurveyID("ncei", "https://example.com/data/socal_dem.tif")
	if !strings.HasPrefix(id, "ncei-socal_dem-") {
		t.Errorf("id = %s", id)
	}
}

func TestIngestCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surveys.csv")
	rows := "Name,DataLink,DataType,DataSource,Agency,West,East,South,North\n" +
		"tile_a,https://example.com/a.tif,dem,ncei,NOAA,-120,-119.75,33,33.25\n" +
		"tile_b,https://example.com/b.tif,dem,ncei,NOAA,-119.75,-119.5,33,33.25\n" +
		",,,,,,,,\n"
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Open(filepath.Join(dir, "fred.geojson"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n, err := idx.Ingest(path)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 2 {
		t.Errorf("ingested %d surveys, want 2 (blank DataLink row dropped)", n)
	}

	got, err := idx.Search(Filter{Region: &recipe.Region{West: -120, East: -119.9, South: 33, North: 33.1}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "tile_a" {
		t.Fatalf("search after ingest = %+v, want tile_a only", got)
	}
	if got[0].ID == "" {
		t.Error("ingested survey missing a minted ID")
	}
}

func TestIngestJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surveys.json")
	body := `[
  {"Name": "gulf_block", "ID": "usace-gulf-1", "DataLink": "https://example.com/gulf.laz",
   "DataType": "lidar", "DataSource": "usace",
   "West": -90, "East": -89, "South": 28, "North": 29}
]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Open(filepath.Join(dir, "fred.geojson"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := idx.Ingest(path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	got, err := idx.Search(Filter{DataSource: "usace"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d surveys, want 1", len(got))
	}
	want := recipe.Region{West: -90, East: -89, South: 28, North: 29}
	if got[0].Footprint != want {
		t.Errorf("footprint = %+v, want %+v", got[0].Footprint, want)
	}
}

func TestIngestRejectsUnknownFormat(t *testing.T) {
	idx, _ := Open(filepath.Join(t.TempDir(), "fred.geojson"))
	if _, err := idx.Ingest("surveys.yaml"); err == nil {
		t.Error("yaml ingest accepted")
	}
}

func TestScanIndexesDataFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.tif", "sub/b.laz", "notes.txt"} {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	idx, _ := Open(filepath.Join(t.TempDir(), "fred.geojson"))
	footprint := recipe.Region{West: -120, East: -119, South: 33, North: 34}
	n, err := idx.Scan(dir, "scan", footprint)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 2 {
		t.Errorf("scanned %d files, want 2 (txt skipped)", n)
	}

	got, err := idx.Search(Filter{DataType: "lidar"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "b.laz" {
		t.Fatalf("lidar search = %+v, want b.laz", got)
	}
	if !filepath.IsAbs(got[0].DataLink) {
		t.Errorf("scanned DataLink %q not absolute", got[0].DataLink)
	}
	if got[0].Footprint != footprint {
		t.Errorf("footprint = %+v, want caller's", got[0].Footprint)
	}
}
