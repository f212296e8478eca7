package correlation

import (
	"fmt"
	"log"

	"github.com/clem-data/clempick/internal/geom"
)

// Stage is the pipeline position of a Correlation. Stages advance in
// one direction only; a fit failure leaves the stage unchanged, so an
// established state is all-or-nothing.
type Stage string

const (
	StageUninitialized  Stage = "uninitialized"
	StageLMOverview     Stage = "lm-overview fitted"
	StageOverviewSearch Stage = "overview-search fitted"
	StageEstablished    Stage = "established"
)

// Correlation aggregates the transforms and point sets of a two- or
// three-system correlation. It is built incrementally across the
// pipeline stages and read-only once established.
type Correlation struct {
	stage Stage
	mode  Mode

	// Forward transforms, populated stage by stage.
	LMToOverview     *geom.Affine
	OverviewToSearch *geom.Affine
	LMToSearch       *geom.Affine

	// Inverses, populated on establishment.
	OverviewToLM     *geom.Affine
	SearchToOverview *geom.Affine
	SearchToLM       *geom.Affine

	// Inputs retained for reporting.
	Markers        MarkerSpec
	OverviewDetail geom.Points
	SearchDetail   geom.Points

	// Move-overview extras; nil in the other modes. Consumed by the
	// reporting layer, never by the fits.
	SearchMain     *geom.Point
	OverviewCenter *geom.Point
}

// New returns an empty correlation for the given acquisition mode.
func New(mode Mode) (*Correlation, error) {
	if !mode.Valid() {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown overview-search mode %q", mode)}
	}
	return &Correlation{stage: StageUninitialized, mode: mode}, nil
}

// Stage returns the current pipeline stage.
func (c *Correlation) Stage() Stage { return c.stage }

// Mode returns the overview-search acquisition mode.
func (c *Correlation) Mode() Mode { return c.mode }

// Established reports whether the full correlation chain is available.
func (c *Correlation) Established() bool { return c.stage == StageEstablished }

func (c *Correlation) requireStage(op string, want Stage) error {
	if c.stage != want {
		return fmt.Errorf("%s: pipeline is %s, want %s", op, c.stage, want)
	}
	return nil
}

// FitLMOverview runs the first stage. The estimation strategy follows
// the marker spec: joint markers get a direct fit, split markers get
// the separate linear + translation fit. fitType selects the transform
// family for the joint strategy (the split strategy is inherently
// general linear).
func (c *Correlation) FitLMOverview(spec MarkerSpec, fitType FitType) error {
	if err := c.requireStage("fit lm-overview", StageUninitialized); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := validateFitType("lm-overview", fitType); err != nil {
		return err
	}

	var (
		t   *geom.Affine
		err error
	)
	switch {
	case spec.Joint != nil:
		switch fitType {
		case FitRs:
			t, err = geom.FitSimilarity(spec.Joint.LM, spec.Joint.Overview)
		default:
			t, err = geom.FitGeneral(spec.Joint.LM, spec.Joint.Overview)
		}
	case spec.Split != nil:
		if fitType == FitRs {
			return &ConfigurationError{Reason: "split marker strategy supports only the gl fit type"}
		}
		t, err = geom.FitSplit(spec.Split.LMGl, spec.Split.OverviewGl, spec.Split.LMD, spec.Split.OverviewD)
	}
	if err != nil {
		return fmt.Errorf("lm-overview fit: %w", err)
	}

	c.Markers = spec
	c.LMToOverview = t
	c.stage = StageLMOverview
	return nil
}

// OverviewSearchParams carries the second-stage inputs. SearchMain and
// OverviewCenter are required in move-overview mode and rejected
// otherwise.
type OverviewSearchParams struct {
	OverviewDetail geom.Points
	SearchDetail   geom.Points
	FitType        FitType
	SearchMain     *geom.Point
	OverviewCenter *geom.Point
}

// FitOverviewSearch runs the second stage. The fit math is the same in
// every acquisition mode; the mode governs parameter validation and
// how results are later interpreted.
func (c *Correlation) FitOverviewSearch(params OverviewSearchParams) error {
	if err := c.requireStage("fit overview-search", StageLMOverview); err != nil {
		return err
	}
	if err := validateFitType("overview-search", params.FitType); err != nil {
		return err
	}
	if c.mode == ModeMoveOverview {
		if params.SearchMain == nil || params.OverviewCenter == nil {
			return &ConfigurationError{Reason: "move overview mode requires search main position and overview center"}
		}
	} else if params.SearchMain != nil || params.OverviewCenter != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("search main position and overview center only apply to %q mode", ModeMoveOverview)}
	}

	var (
		t   *geom.Affine
		err error
	)
	switch params.FitType {
	case FitRs:
		t, err = geom.FitSimilarity(params.OverviewDetail, params.SearchDetail)
	default:
		t, err = geom.FitGeneral(params.OverviewDetail, params.SearchDetail)
	}
	if err != nil {
		return fmt.Errorf("overview-search fit: %w", err)
	}

	c.OverviewDetail = params.OverviewDetail
	c.SearchDetail = params.SearchDetail
	c.SearchMain = params.SearchMain
	c.OverviewCenter = params.OverviewCenter
	c.OverviewToSearch = t
	c.stage = StageOverviewSearch
	return nil
}

// ComposeChain runs the final stage: the LM-to-search composite and
// all three inverses. On success the correlation is established and
// read-only.
func (c *Correlation) ComposeChain() error {
	if err := c.requireStage("compose", StageOverviewSearch); err != nil {
		return err
	}

	c.LMToSearch = c.LMToOverview.Compose(c.OverviewToSearch)

	var err error
	if c.OverviewToLM, err = c.LMToOverview.Inverse(); err != nil {
		return fmt.Errorf("invert lm-overview: %w", err)
	}
	if c.SearchToOverview, err = c.OverviewToSearch.Inverse(); err != nil {
		return fmt.Errorf("invert overview-search: %w", err)
	}
	if c.SearchToLM, err = c.LMToSearch.Inverse(); err != nil {
		return fmt.Errorf("invert lm-search: %w", err)
	}

	c.stage = StageEstablished
	log.Printf("[Correlation] Established %s correlation: lm2overview rms=%.4g (%s), overview2search rms=%.4g (%s)",
		c.mode, c.LMToOverview.RMS, c.LMToOverview.ErrKind, c.OverviewToSearch.RMS, c.OverviewToSearch.ErrKind)
	return nil
}

// EstablishParams bundles all pipeline inputs for the one-shot path.
type EstablishParams struct {
	Mode           Mode
	Markers        MarkerSpec
	LMOverviewType FitType
	OverviewSearch OverviewSearchParams
}

// Establish runs all three stages in order and returns an established
// correlation, or the first stage's error with nothing established.
func Establish(params EstablishParams) (*Correlation, error) {
	c, err := New(params.Mode)
	if err != nil {
		return nil, err
	}
	if err := c.FitLMOverview(params.Markers, params.LMOverviewType); err != nil {
		return nil, err
	}
	if err := c.FitOverviewSearch(params.OverviewSearch); err != nil {
		return nil, err
	}
	if err := c.ComposeChain(); err != nil {
		return nil, err
	}
	return c, nil
}
