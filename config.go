package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/clem-data/clempick/internal/correlation"
	"github.com/clem-data/clempick/internal/geom"
	"github.com/clem-data/clempick/internal/particles"
	"github.com/clem-data/clempick/internal/positions"
)

// PointSource describes where a 2D point list comes from: either a
// positions file (with optional row/column selection) or literal
// coordinates. Exactly one of File/Points must be set.
type PointSource struct {
	File      string       `json:"file,omitempty"`
	Rows      []int        `json:"rows,omitempty"`
	RowRange  *[2]int      `json:"row_range,omitempty"`
	XYColumns *[2]int      `json:"xy_columns,omitempty"`
	Points    [][2]float64 `json:"points,omitempty"`
}

// Resolve loads the point list the source describes.
func (s *PointSource) Resolve() (geom.Points, error) {
	if s == nil {
		return nil, nil
	}
	if s.File != "" && s.Points != nil {
		return nil, fmt.Errorf("point source: file and literal points are mutually exclusive")
	}
	if s.Points != nil {
		pts := make(geom.Points, len(s.Points))
		for i, p := range s.Points {
			pts[i] = geom.Point{X: p[0], Y: p[1]}
		}
		return pts, nil
	}
	if s.File == "" {
		return nil, fmt.Errorf("point source: neither file nor points given")
	}

	rows := s.Rows
	if s.RowRange != nil {
		if rows != nil {
			return nil, fmt.Errorf("point source %s: rows and row_range are mutually exclusive", s.File)
		}
		rows = positions.Range(s.RowRange[0], s.RowRange[1])
	}
	xy := positions.DefaultXYColumns
	if s.XYColumns != nil {
		xy = *s.XYColumns
	}
	return positions.ReadFile(s.File, rows, xy)
}

// JointMarkerConfig is a matched LM/overview marker pair list.
type JointMarkerConfig struct {
	LM       PointSource `json:"lm"`
	Overview PointSource `json:"overview"`
}

// SplitMarkerConfig carries separate shape (gl) and displacement (d)
// marker lists for the two-stage fit.
type SplitMarkerConfig struct {
	LMGl       PointSource `json:"lm_gl"`
	OverviewGl PointSource `json:"overview_gl"`
	LMD        PointSource `json:"lm_d"`
	OverviewD  PointSource `json:"overview_d"`
}

// SpotConfig is one set of spots to project across the three systems.
type SpotConfig struct {
	System string      `json:"system"`
	Source PointSource `json:"source"`
	Labels []string    `json:"labels,omitempty"`
}

// CorrelateConfig is the JSON configuration of a correlate run.
type CorrelateConfig struct {
	Mode              string `json:"mode"`
	LMOverviewFit     string `json:"lm_overview_fit"`
	OverviewSearchFit string `json:"overview_search_fit"`

	Joint *JointMarkerConfig `json:"joint,omitempty"`
	Split *SplitMarkerConfig `json:"split,omitempty"`

	OverviewDetail PointSource `json:"overview_detail"`
	SearchDetail   PointSource `json:"search_detail"`

	SearchMain     *[2]float64 `json:"search_main,omitempty"`
	OverviewCenter *[2]float64 `json:"overview_center,omitempty"`

	// Mosaic correction: when both are set, overview markers are
	// shifted by (overview_main - mosaic_main) before fitting.
	MosaicMain   *[2]float64 `json:"mosaic_main,omitempty"`
	OverviewMain *[2]float64 `json:"overview_main,omitempty"`

	Spots []SpotConfig `json:"spots,omitempty"`
}

// LoadCorrelateConfig reads and validates a correlate config file.
func LoadCorrelateConfig(path string) (*CorrelateConfig, error) {
	var cfg CorrelateConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if !correlation.Mode(cfg.Mode).Valid() {
		return nil, fmt.Errorf("%s: unknown mode %q", path, cfg.Mode)
	}
	if (cfg.Joint == nil) == (cfg.Split == nil) {
		return nil, fmt.Errorf("%s: exactly one of joint/split markers required", path)
	}
	if !correlation.FitType(cfg.LMOverviewFit).Valid() {
		return nil, fmt.Errorf("%s: unknown lm_overview_fit %q", path, cfg.LMOverviewFit)
	}
	if !correlation.FitType(cfg.OverviewSearchFit).Valid() {
		return nil, fmt.Errorf("%s: unknown overview_search_fit %q", path, cfg.OverviewSearchFit)
	}
	if (cfg.MosaicMain == nil) != (cfg.OverviewMain == nil) {
		return nil, fmt.Errorf("%s: mosaic_main and overview_main must be given together", path)
	}
	if cfg.MosaicMain != nil {
		if correlation.Mode(cfg.Mode) != correlation.ModeMoveOverview {
			return nil, fmt.Errorf("%s: mosaic correction requires move overview mode", path)
		}
		if cfg.Joint == nil {
			return nil, fmt.Errorf("%s: mosaic correction requires joint markers", path)
		}
	}
	for i, spot := range cfg.Spots {
		switch correlation.System(spot.System) {
		case correlation.SystemLM, correlation.SystemOverview, correlation.SystemSearch:
		default:
			return nil, fmt.Errorf("%s: spot set %d has unknown system %q", path, i, spot.System)
		}
	}
	return &cfg, nil
}

// EstablishParams converts the config into pipeline parameters,
// resolving all point sources.
func (cfg *CorrelateConfig) EstablishParams() (correlation.EstablishParams, error) {
	var params correlation.EstablishParams
	params.Mode = correlation.Mode(cfg.Mode)
	params.LMOverviewType = correlation.FitType(cfg.LMOverviewFit)
	params.OverviewSearch.FitType = correlation.FitType(cfg.OverviewSearchFit)

	if cfg.Joint != nil {
		lm, err := cfg.Joint.LM.Resolve()
		if err != nil {
			return params, fmt.Errorf("lm markers: %w", err)
		}
		overview, err := cfg.Joint.Overview.Resolve()
		if err != nil {
			return params, fmt.Errorf("overview markers: %w", err)
		}
		if cfg.MosaicMain != nil {
			overview = correlation.MosaicShift(overview,
				geom.Point{X: cfg.MosaicMain[0], Y: cfg.MosaicMain[1]},
				geom.Point{X: cfg.OverviewMain[0], Y: cfg.OverviewMain[1]})
		}
		params.Markers.Joint = &correlation.JointMarkers{LM: lm, Overview: overview}
	} else {
		split := &correlation.SplitMarkers{}
		for _, f := range []struct {
			name string
			src  *PointSource
			dst  *geom.Points
		}{
			{"lm_gl", &cfg.Split.LMGl, &split.LMGl},
			{"overview_gl", &cfg.Split.OverviewGl, &split.OverviewGl},
			{"lm_d", &cfg.Split.LMD, &split.LMD},
			{"overview_d", &cfg.Split.OverviewD, &split.OverviewD},
		} {
			pts, err := f.src.Resolve()
			if err != nil {
				return params, fmt.Errorf("%s markers: %w", f.name, err)
			}
			*f.dst = pts
		}
		params.Markers.Split = split
	}

	var err error
	if params.OverviewSearch.OverviewDetail, err = cfg.OverviewDetail.Resolve(); err != nil {
		return params, fmt.Errorf("overview detail: %w", err)
	}
	if params.OverviewSearch.SearchDetail, err = cfg.SearchDetail.Resolve(); err != nil {
		return params, fmt.Errorf("search detail: %w", err)
	}
	if cfg.SearchMain != nil {
		params.OverviewSearch.SearchMain = &geom.Point{X: cfg.SearchMain[0], Y: cfg.SearchMain[1]}
	}
	if cfg.OverviewCenter != nil {
		params.OverviewSearch.OverviewCenter = &geom.Point{X: cfg.OverviewCenter[0], Y: cfg.OverviewCenter[1]}
	}
	return params, nil
}

// SpotSets resolves the configured spot sets.
func (cfg *CorrelateConfig) SpotSets() ([]correlation.SpotSet, error) {
	sets := make([]correlation.SpotSet, 0, len(cfg.Spots))
	for i, spot := range cfg.Spots {
		pts, err := spot.Source.Resolve()
		if err != nil {
			return nil, fmt.Errorf("spot set %d: %w", i, err)
		}
		sets = append(sets, correlation.SpotSet{
			System: correlation.System(spot.System),
			Points: pts,
			Labels: spot.Labels,
		})
	}
	return sets, nil
}

// DatasetConfig is one tomogram entry of an extract config.
type DatasetConfig struct {
	Identifier string  `json:"identifier"`
	TomoPath   string  `json:"tomo_path"`
	LabelPath  string  `json:"label_path"`
	IDs        []int32 `json:"ids"`
}

// GroupConfig is a named set of datasets.
type GroupConfig struct {
	Name     string          `json:"name"`
	Datasets []DatasetConfig `json:"datasets"`
}

// ExtractConfig is the JSON configuration of an extract run.
type ExtractConfig struct {
	BoxSize     *int     `json:"box_size"`
	ParticleDir string   `json:"particle_dir"`
	DType       string   `json:"dtype,omitempty"`
	Mean        *float64 `json:"mean,omitempty"`
	Std         *float64 `json:"std,omitempty"`
	KeepIDs     bool     `json:"keep_ids,omitempty"`

	WriteLabels bool     `json:"write_labels,omitempty"`
	LabelFg     *float64 `json:"label_fg,omitempty"`
	LabelBkg    *float64 `json:"label_bkg,omitempty"`

	Groups      []GroupConfig `json:"groups"`
	Identifiers []string      `json:"identifiers,omitempty"`

	// ContinueOnError keeps the batch going past dataset failures.
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// LoadExtractConfig reads and validates an extract config file.
func LoadExtractConfig(path string) (*ExtractConfig, error) {
	var cfg ExtractConfig
	if err := loadJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.BoxSize == nil || *cfg.BoxSize <= 0 {
		return nil, fmt.Errorf("%s: box_size must be a positive integer", path)
	}
	if cfg.ParticleDir == "" {
		return nil, fmt.Errorf("%s: particle_dir not set", path)
	}
	if len(cfg.Groups) == 0 {
		return nil, fmt.Errorf("%s: no groups configured", path)
	}
	seen := make(map[string]bool)
	for _, g := range cfg.Groups {
		for _, ds := range g.Datasets {
			if ds.Identifier == "" || ds.TomoPath == "" || ds.LabelPath == "" {
				return nil, fmt.Errorf("%s: dataset in group %q needs identifier, tomo_path and label_path", path, g.Name)
			}
			if seen[ds.Identifier] {
				return nil, fmt.Errorf("%s: duplicate identifier %q", path, ds.Identifier)
			}
			seen[ds.Identifier] = true
		}
	}
	return &cfg, nil
}

// Groups converts the config into extractor groups.
func (cfg *ExtractConfig) ExtractorGroups() []particles.Group {
	groups := make([]particles.Group, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		out := particles.Group{Name: g.Name}
		for _, ds := range g.Datasets {
			out.Datasets = append(out.Datasets, particles.Dataset{
				Identifier: ds.Identifier,
				LabelPath:  ds.LabelPath,
				IDs:        ds.IDs,
			})
		}
		groups = append(groups, out)
	}
	return groups
}

// ExtractIdentifiers returns the identifiers to process: the explicit
// list when given, otherwise every configured dataset in order.
func (cfg *ExtractConfig) ExtractIdentifiers() []string {
	if len(cfg.Identifiers) > 0 {
		return cfg.Identifiers
	}
	var ids []string
	for _, g := range cfg.Groups {
		for _, ds := range g.Datasets {
			ids = append(ids, ds.Identifier)
		}
	}
	return ids
}

// Resolver builds the tomogram path lookup from the configured datasets.
func (cfg *ExtractConfig) Resolver() particles.TomoPathResolver {
	paths := make(map[string]string)
	for _, g := range cfg.Groups {
		for _, ds := range g.Datasets {
			paths[ds.Identifier] = ds.TomoPath
		}
	}
	return func(identifier string) (string, error) {
		p, ok := paths[identifier]
		if !ok {
			return "", fmt.Errorf("no tomo path configured for %q", identifier)
		}
		return p, nil
	}
}

// ExtractorConfig converts the file config into extractor parameters.
func (cfg *ExtractConfig) ExtractorConfig() particles.Config {
	out := particles.Config{
		BoxSize:         *cfg.BoxSize,
		ParticleDir:     cfg.ParticleDir,
		DType:           particles.DType(cfg.DType),
		Mean:            cfg.Mean,
		Std:             cfg.Std,
		KeepIDs:         cfg.KeepIDs,
		WriteLabels:     cfg.WriteLabels,
		ResolveTomoPath: cfg.Resolver(),
	}
	if cfg.LabelFg != nil {
		out.LabelFg = float32(*cfg.LabelFg)
	} else {
		out.LabelFg = 1
	}
	if cfg.LabelBkg != nil {
		out.LabelBkg = float32(*cfg.LabelBkg)
	}
	return out
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
