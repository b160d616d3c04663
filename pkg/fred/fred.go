// Package fred implements the fetch remote elevation datalist: a GeoJSON
// feature collection indexing remote surveys by footprint and metadata.
// Data-source modules query it to resolve entries for a region without
// touching the network, and ingest scans keep it current.
package fred

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fetchez/fetchez/pkg/recipe"
)

// Survey is one indexed remote dataset: where it lives, what it covers,
// and enough metadata to filter on.
type Survey struct {
	Name       string `json:"Name"`
	ID         string `json:"ID"`
	Date       string `json:"Date,omitempty"`
	Agency     string `json:"Agency,omitempty"`
	MetaLink   string `json:"MetadataLink,omitempty"`
	DataLink   string `json:"DataLink"`
	IndexLink  string `json:"IndexLink,omitempty"`
	DataType   string `json:"DataType,omitempty"`
	DataSource string `json:"DataSource,omitempty"`
	Resolution string `json:"Resolution,omitempty"`
	HorizEPSG  string `json:"HorizontalDatum,omitempty"`
	VertDatum  string `json:"VerticalDatum,omitempty"`
	Info       string `json:"Info,omitempty"`

	// Footprint is the survey's bounding box.
	Footprint recipe.Region `json:"-"`
}

// feature is the on-disk GeoJSON representation of a survey.
type feature struct {
	Type       string          `json:"type"`
	Properties Survey          `json:"properties"`
	Geometry   polygonGeometry `json:"geometry"`
}

type polygonGeometry struct {
	Type        string          `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// Filter narrows a search. Zero values match everything.
type Filter struct {
	// Region keeps surveys whose footprint intersects it.
	Region *recipe.Region

	// DataSource matches the indexing module name exactly.
	DataSource string

	// DataType matches the survey data type exactly.
	DataType string

	// Where is a simple "Field = 'value'" predicate over survey fields,
	// carried through from recipe arguments.
	Where string
}

// Index is an in-memory FRED index backed by a GeoJSON file. Safe for
// concurrent readers; writers take the index lock.
type Index struct {
	mu      sync.RWMutex
	path    string
	surveys []Survey
}

// Open loads the index at path, creating an empty one if the file does
// not exist yet.
func Open(path string) (*Index, error) {
	idx := &Index{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading index %s: %w", path, err)
	}

	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	for _, f := range fc.Features {
		s := f.Properties
		s.Footprint = footprintOf(f.Geometry)
		idx.surveys = append(idx.surveys, s)
	}
	return idx, nil
}

// footprintOf derives the bounding box of a polygon ring.
func footprintOf(g polygonGeometry) recipe.Region {
	r := recipe.Region{West: 180, East: -180, South: 90, North: -90}
	for _, ring := range g.Coordinates {
		for _, pt := range ring {
			if pt[0] < r.West {
				r.West = pt[0]
			}
			if pt[0] > r.East {
				r.East = pt[0]
			}
			if pt[1] < r.South {
				r.South = pt[1]
			}
			if pt[1] > r.North {
				r.North = pt[1]
			}
		}
	}
	return r
}

// ringOf renders a region as a closed polygon ring, the inverse of
// footprintOf for box footprints.
func ringOf(r recipe.Region) polygonGeometry {
	return polygonGeometry{
		Type: "Polygon",
		Coordinates: [][][2]float64{{
			{r.West, r.South},
			{r.East, r.South},
			{r.East, r.North},
			{r.West, r.North},
			{r.West, r.South},
		}},
	}
}

// Save writes the index back to its GeoJSON file.
func (idx *Index) Save() error {
	idx.mu.RLock()
	fc := featureCollection{Type: "FeatureCollection"}
	for _, s := range idx.surveys {
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Properties: s,
			Geometry:   ringOf(s.Footprint),
		})
	}
	idx.mu.RUnlock()

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	if err := os.WriteFile(idx.path, data, 0o644); err != nil {
		return fmt.Errorf("writing index %s: %w", idx.path, err)
	}
	return nil
}

// Add indexes a survey, replacing any existing survey with the same ID.
func (idx *Index) Add(s Survey) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, old := range idx.surveys {
		if old.ID == s.ID && s.ID != "" {
			idx.surveys[i] = s
			return
		}
	}
	idx.surveys = append(idx.surveys, s)
}

// Len returns the number of indexed surveys.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.surveys)
}

// Search returns the surveys matching the filter, in index order.
func (idx *Index) Search(f Filter) ([]Survey, error) {
	pred, err := parseWhere(f.Where)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []Survey
	for _, s := range idx.surveys {
		if f.Region != nil && !s.Footprint.Intersects(*f.Region) {
			continue
		}
		if f.DataSource != "" && s.DataSource != f.DataSource {
			continue
		}
		if f.DataType != "" && s.DataType != f.DataType {
			continue
		}
		if pred != nil && !pred(s) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// parseWhere compiles a "Field = 'value'" predicate. Conjunctions with AND
// are supported; anything richer belongs in a hook.
func parseWhere(where string) (func(Survey) bool, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil, nil
	}

	type clause struct{ field, value string }
	var clauses []clause
	for _, part := range strings.Split(where, " AND ") {
		field, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("unparseable where clause %q", part)
		}
		clauses = append(clauses, clause{
			field: strings.TrimSpace(field),
			value: strings.Trim(strings.TrimSpace(value), "'\""),
		})
	}

	return func(s Survey) bool {
		for _, c := range clauses {
			if fieldValue(s, c.field) != c.value {
				return false
			}
		}
		return true
	}, nil
}

func fieldValue(s Survey, field string) string {
	switch field {
	case "Name":
		return s.Name
	case "ID":
		return s.ID
	case "Date":
		return s.Date
	case "Agency":
		return s.Agency
	case "DataLink":
		return s.DataLink
	case "DataType":
		return s.DataType
	case "DataSource":
		return s.DataSource
	case "Resolution":
		return s.Resolution
	case "HorizontalDatum":
		return s.HorizEPSG
	case "VerticalDatum":
		return s.VertDatum
	default:
		return ""
	}
}

// dataTypeByExt maps artifact extensions seen during a scan to survey
// data types.
var dataTypeByExt = map[string]string{
	".tif":  "dem",
	".tiff": "dem",
	".img":  "dem",
	".asc":  "dem",
	".nc":   "dem",
	".xyz":  "xyz",
	".csv":  "xyz",
	".laz":  "lidar",
	".las":  "lidar",
}

// Ingest reads survey records from a CSV or JSON list file and indexes
// them, replacing records with matching IDs. It returns the number of
// surveys read. CSV files need a header row naming survey fields; West,
// East, South and North columns populate the footprint.
func (idx *Index) Ingest(path string) (int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".geojson":
		return idx.ingestJSON(path)
	case ".csv":
		return idx.ingestCSV(path)
	default:
		return 0, fmt.Errorf("unsupported ingest format %q", filepath.Ext(path))
	}
}

func (idx *Index) ingestJSON(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading ingest file %s: %w", path, err)
	}

	type record struct {
		Survey
		West  float64 `json:"West"`
		East  float64 `json:"East"`
		South float64 `json:"South"`
		North float64 `json:"North"`
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("decoding ingest file %s: %w", path, err)
	}

	for _, rec := range records {
		s := rec.Survey
		s.Footprint = recipe.Region{West: rec.West, East: rec.East, South: rec.South, North: rec.North}
		if s.ID == "" {
			s.ID = NewSurveyID(s.DataSource, s.DataLink)
		}
		idx.Add(s)
	}
	return len(records), nil
}

func (idx *Index) ingestCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reading ingest file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("reading ingest header %s: %w", path, err)
	}

	n := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("reading ingest row %s: %w", path, err)
		}

		var s Survey
		for i, col := range header {
			if i >= len(row) {
				break
			}
			setSurveyField(&s, strings.TrimSpace(col), row[i])
		}
		if s.DataLink == "" {
			continue
		}
		if s.ID == "" {
			s.ID = NewSurveyID(s.DataSource, s.DataLink)
		}
		idx.Add(s)
		n++
	}
	return n, nil
}

func setSurveyField(s *Survey, field, value string) {
	switch field {
	case "Name":
		s.Name = value
	case "ID":
		s.ID = value
	case "Date":
		s.Date = value
	case "Agency":
		s.Agency = value
	case "MetadataLink":
		s.MetaLink = value
	case "DataLink":
		s.DataLink = value
	case "IndexLink":
		s.IndexLink = value
	case "DataType":
		s.DataType = value
	case "DataSource":
		s.DataSource = value
	case "Resolution":
		s.Resolution = value
	case "HorizontalDatum":
		s.HorizEPSG = value
	case "VerticalDatum":
		s.VertDatum = value
	case "Info":
		s.Info = value
	case "West":
		s.Footprint.West, _ = strconv.ParseFloat(value, 64)
	case "East":
		s.Footprint.East, _ = strconv.ParseFloat(value, 64)
	case "South":
		s.Footprint.South, _ = strconv.ParseFloat(value, 64)
	case "North":
		s.Footprint.North, _ = strconv.ParseFloat(value, 64)
	}
}

// Scan walks a local directory and indexes every file with a recognised
// data extension as a survey under the given footprint. The footprint is
// the caller's coverage claim; deriving per-file bounds needs format
// readers this index does not carry.
func (idx *Index) Scan(dir, source string, footprint recipe.Region) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		dt, ok := dataTypeByExt[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		idx.Add(Survey{
			Name:       filepath.Base(path),
			ID:         NewSurveyID(source, path),
			DataLink:   abs,
			DataType:   dt,
			DataSource: source,
			Footprint:  footprint,
		})
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return n, nil
}

// NewSurveyID derives a stable survey ID from a source name and link.
func NewSurveyID(source, link string) string {
	base := filepath.Base(link)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s-%s", source, base, time.Now().UTC().Format("20060102"))
}
