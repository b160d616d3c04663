// Package schemas provides the built-in domain schemas that rewrite a
// recipe to satisfy geometric delivery constraints, plus the delivery
// hooks those schemas inject.
package schemas

import (
	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

// Register installs the built-in domain schemas.
func Register(sr *recipe.SchemaRegistry) {
	sr.Register(NewCudem())
}

// RegisterHooks installs the hooks the built-in schemas inject.
func RegisterHooks(reg *engine.Registry) {
	reg.RegisterHook("snap_tile", NewSnapTile)
}

// Continuously Updated DEM delivery constants: ninth arc-second cells,
// quarter-degree tiles, NAD83 horizontal over NAVD88 vertical.
const (
	cudemCellSize = 1.0 / 9.0 / 3600.0
	cudemTileSize = 0.25
	cudemSRS      = "EPSG:4269+5703"
)

// Cudem rewrites a recipe for Continuously Updated DEM tile delivery. The
// working region grows by an overlap margin so tiles grid cleanly against
// their neighbors, gridding-capable hooks get the delivery reference system,
// and one snap-to-tile hook lands at the end of the global chain.
type Cudem struct {
	// OverlapCells is the per-side region buffer in grid cells.
	OverlapCells int

	// Resolution is the grid cell size in degrees.
	Resolution float64
}

// NewCudem returns the cudem schema with standard delivery parameters.
func NewCudem() *Cudem {
	return &Cudem{OverlapCells: 6, Resolution: cudemCellSize}
}

// Name implements recipe.Schema.
func (s *Cudem) Name() string { return "cudem" }

// griddingHooks are the hook names that accept reference-system arguments.
var griddingHooks = map[string]bool{
	"pipe":      true,
	"snap_tile": true,
}

// Apply implements recipe.Schema.
func (s *Cudem) Apply(r *recipe.Recipe) error {
	r.Region = r.Region.Buffer(float64(s.OverlapCells) * s.Resolution)

	for i := range r.Modules {
		for j := range r.Modules[i].Hooks {
			s.injectSRS(&r.Modules[i].Hooks[j])
		}
	}
	for i := range r.GlobalHooks {
		s.injectSRS(&r.GlobalHooks[i])
	}

	// One snap hook at the tail of the global chain. A recipe that already
	// ends with one gets its arguments rewritten instead of a duplicate.
	snap := recipe.HookSpec{
		Name: "snap_tile",
		Args: map[string]interface{}{
			"srs":       cudemSRS,
			"tile_size": cudemTileSize,
			"cell_size": s.Resolution,
			"region": []interface{}{
				r.Region.West, r.Region.East, r.Region.South, r.Region.North,
			},
		},
	}
	if n := len(r.GlobalHooks); n > 0 && r.GlobalHooks[n-1].Name == "snap_tile" {
		r.GlobalHooks[n-1] = snap
	} else {
		r.GlobalHooks = append(r.GlobalHooks, snap)
	}
	return nil
}

func (s *Cudem) injectSRS(h *recipe.HookSpec) {
	if !griddingHooks[h.Name] {
		return
	}
	if h.Args == nil {
		h.Args = map[string]interface{}{}
	}
	h.Args["srs"] = cudemSRS
	h.Args["cell_size"] = s.Resolution
}
