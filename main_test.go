package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clem-data/clempick/internal/geom"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestPointSource_Literal(t *testing.T) {
	src := &PointSource{Points: [][2]float64{{1, 2}, {3, 4}}}
	got, err := src.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := geom.Points{{X: 1, Y: 2}, {X: 3, Y: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestPointSource_File(t *testing.T) {
	posFile := filepath.Join(t.TempDir(), "picks.dat")
	content := " id x y\n 1 10.0 20.0\n 2 30.0 40.0\n 3 50.0 60.0\n"
	if err := os.WriteFile(posFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write positions: %v", err)
	}

	cols := [2]int{1, 2}
	src := &PointSource{File: posFile, RowRange: &[2]int{0, 2}, XYColumns: &cols}
	got, err := src.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := geom.Points{{X: 10, Y: 20}, {X: 30, Y: 40}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
}

func TestPointSource_Invalid(t *testing.T) {
	if _, err := (&PointSource{}).Resolve(); err == nil {
		t.Error("empty source should fail")
	}
	src := &PointSource{File: "x.dat", Points: [][2]float64{{1, 2}}}
	if _, err := src.Resolve(); err == nil {
		t.Error("file+points should fail")
	}
	src = &PointSource{File: "x.dat", Rows: []int{0}, RowRange: &[2]int{0, 1}}
	if _, err := src.Resolve(); err == nil {
		t.Error("rows+row_range should fail")
	}
}

func TestLoadCorrelateConfig(t *testing.T) {
	path := writeConfig(t, `{
		"mode": "collage",
		"lm_overview_fit": "gl",
		"overview_search_fit": "gl",
		"joint": {
			"lm": {"points": [[0,0],[1,0],[0,1]]},
			"overview": {"points": [[0,0],[2,0],[0,2]]}
		},
		"overview_detail": {"points": [[0,0],[1,0],[0,1]]},
		"search_detail": {"points": [[0,0],[1,0],[0,1]]},
		"spots": [{"system": "lm", "source": {"points": [[5,5]]}, "labels": ["a"]}]
	}`)
	cfg, err := LoadCorrelateConfig(path)
	if err != nil {
		t.Fatalf("LoadCorrelateConfig: %v", err)
	}

	params, err := cfg.EstablishParams()
	if err != nil {
		t.Fatalf("EstablishParams: %v", err)
	}
	if params.Markers.Joint == nil || len(params.Markers.Joint.LM) != 3 {
		t.Fatalf("joint markers not resolved: %+v", params.Markers)
	}

	sets, err := cfg.SpotSets()
	if err != nil {
		t.Fatalf("SpotSets: %v", err)
	}
	if len(sets) != 1 || sets[0].Labels[0] != "a" {
		t.Fatalf("spot sets = %+v", sets)
	}
}

func TestLoadCorrelateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "unknown mode",
			json:    `{"mode": "sideways", "lm_overview_fit": "gl", "overview_search_fit": "gl", "joint": {}}`,
			wantErr: "unknown mode",
		},
		{
			name:    "no markers",
			json:    `{"mode": "collage", "lm_overview_fit": "gl", "overview_search_fit": "gl"}`,
			wantErr: "joint/split",
		},
		{
			name: "both marker kinds",
			json: `{"mode": "collage", "lm_overview_fit": "gl", "overview_search_fit": "gl",
				"joint": {}, "split": {}}`,
			wantErr: "joint/split",
		},
		{
			name:    "bad fit type",
			json:    `{"mode": "collage", "lm_overview_fit": "fancy", "overview_search_fit": "gl", "joint": {}}`,
			wantErr: "lm_overview_fit",
		},
		{
			name: "mosaic outside move overview",
			json: `{"mode": "collage", "lm_overview_fit": "gl", "overview_search_fit": "gl",
				"joint": {}, "mosaic_main": [1,2], "overview_main": [3,4]}`,
			wantErr: "move overview",
		},
		{
			name: "mosaic main without overview main",
			json: `{"mode": "move overview", "lm_overview_fit": "gl", "overview_search_fit": "gl",
				"joint": {}, "mosaic_main": [1,2]}`,
			wantErr: "together",
		},
		{
			name: "unknown spot system",
			json: `{"mode": "collage", "lm_overview_fit": "gl", "overview_search_fit": "gl",
				"joint": {}, "spots": [{"system": "moon", "source": {"points": [[1,1]]}}]}`,
			wantErr: "unknown system",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadCorrelateConfig(writeConfig(t, tc.json))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestCorrelateConfig_MosaicShiftApplied(t *testing.T) {
	path := writeConfig(t, `{
		"mode": "move overview",
		"lm_overview_fit": "gl",
		"overview_search_fit": "gl",
		"joint": {
			"lm": {"points": [[0,0],[1,0],[0,1]]},
			"overview": {"points": [[10,10],[20,10],[10,20]]}
		},
		"overview_detail": {"points": [[0,0],[1,0],[0,1]]},
		"search_detail": {"points": [[0,0],[1,0],[0,1]]},
		"search_main": [1, 2],
		"overview_center": [3, 4],
		"mosaic_main": [100, 100],
		"overview_main": [103, 105]
	}`)
	cfg, err := LoadCorrelateConfig(path)
	if err != nil {
		t.Fatalf("LoadCorrelateConfig: %v", err)
	}
	params, err := cfg.EstablishParams()
	if err != nil {
		t.Fatalf("EstablishParams: %v", err)
	}
	// Overview markers shifted by (overview_main - mosaic_main) = (3, 5).
	want := geom.Points{{X: 13, Y: 15}, {X: 23, Y: 15}, {X: 13, Y: 25}}
	if diff := cmp.Diff(want, params.Markers.Joint.Overview); diff != "" {
		t.Errorf("shifted markers mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExtractConfig(t *testing.T) {
	path := writeConfig(t, `{
		"box_size": 24,
		"particle_dir": "/out/particles",
		"dtype": "int16",
		"std": 2.5,
		"groups": [{
			"name": "ctrl",
			"datasets": [
				{"identifier": "t1", "tomo_path": "/d/t1.mrc", "label_path": "/d/t1_labels.mrc", "ids": [1,2]},
				{"identifier": "t2", "tomo_path": "/d/t2.mrc", "label_path": "/d/t2_labels.mrc", "ids": [3]}
			]
		}]
	}`)
	cfg, err := LoadExtractConfig(path)
	if err != nil {
		t.Fatalf("LoadExtractConfig: %v", err)
	}
	if *cfg.BoxSize != 24 || cfg.Mean != nil || *cfg.Std != 2.5 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if got := cfg.ExtractIdentifiers(); len(got) != 2 || got[0] != "t1" || got[1] != "t2" {
		t.Errorf("identifiers = %v", got)
	}

	groups := cfg.ExtractorGroups()
	if len(groups) != 1 || len(groups[0].Datasets) != 2 {
		t.Fatalf("groups = %+v", groups)
	}

	resolve := cfg.Resolver()
	p, err := resolve("t2")
	if err != nil || p != "/d/t2.mrc" {
		t.Errorf("resolve(t2) = %q, %v", p, err)
	}
	if _, err := resolve("missing"); err == nil {
		t.Error("expected error for unconfigured identifier")
	}

	ec := cfg.ExtractorConfig()
	if ec.BoxSize != 24 || ec.DType != "int16" || ec.LabelFg != 1 {
		t.Errorf("extractor config = %+v", ec)
	}
}

func TestLoadExtractConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"missing box size", `{"particle_dir": "/out", "groups": [{"name": "g", "datasets": []}]}`},
		{"negative box size", `{"box_size": -3, "particle_dir": "/out", "groups": [{"name": "g"}]}`},
		{"missing particle dir", `{"box_size": 10, "groups": [{"name": "g"}]}`},
		{"no groups", `{"box_size": 10, "particle_dir": "/out"}`},
		{"incomplete dataset", `{"box_size": 10, "particle_dir": "/out",
			"groups": [{"name": "g", "datasets": [{"identifier": "t1"}]}]}`},
		{"duplicate identifier", `{"box_size": 10, "particle_dir": "/out",
			"groups": [{"name": "g", "datasets": [
				{"identifier": "t1", "tomo_path": "/a", "label_path": "/b"},
				{"identifier": "t1", "tomo_path": "/c", "label_path": "/d"}]}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadExtractConfig(writeConfig(t, tc.json)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
