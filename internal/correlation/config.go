package correlation

import (
	"fmt"

	"github.com/clem-data/clempick/internal/geom"
)

// System identifies one of the three correlated coordinate systems.
type System string

const (
	SystemLM       System = "lm"
	SystemOverview System = "overview"
	SystemSearch   System = "search"
)

// Mode is the overview-to-search acquisition strategy. The fit math is
// identical for all three; they differ in how the search-side detail
// set and the auxiliary center/main values are interpreted.
type Mode string

const (
	// ModeCollage: search coordinates are positions on a fixed collage
	// (mosaic) image.
	ModeCollage Mode = "collage"
	// ModeMoveSearch: details are obtained by moving the stage until
	// the feature is centered; stage coordinates are the search set.
	ModeMoveSearch Mode = "move search"
	// ModeMoveOverview: the overview frame is re-imaged at different
	// stage positions; requires a main stage position and an overview
	// image center, consumed by reporting.
	ModeMoveOverview Mode = "move overview"
)

// Valid reports whether m names a known acquisition mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeCollage, ModeMoveSearch, ModeMoveOverview:
		return true
	}
	return false
}

// FitType selects the transform family for one correlation stage.
type FitType string

const (
	// FitGl is the full general-linear affine fit.
	FitGl FitType = "gl"
	// FitRs restricts the fit to rotation, isotropic scale and parity.
	FitRs FitType = "rs"
)

// Valid reports whether f names a known fit type.
func (f FitType) Valid() bool {
	return f == FitGl || f == FitRs
}

// ConfigurationError reports a mutually-exclusive or missing parameter
// combination detected at validation time, before any fit runs.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// JointMarkers carries directly corresponding LM/overview marker sets
// for the single-fit strategy.
type JointMarkers struct {
	LM       geom.Points
	Overview geom.Points
}

// SplitMarkers carries the marker sets for the separate gl +
// translation strategy. The Gl sets outline the same shape but may be
// displaced between systems; the D sets correspond directly and pin
// down the translation.
type SplitMarkers struct {
	LMGl       geom.Points
	OverviewGl geom.Points
	LMD        geom.Points
	OverviewD  geom.Points
}

// MarkerSpec is the tagged LM-overview marker configuration: exactly
// one of Joint or Split must be populated. Which one is present
// selects the estimation strategy.
type MarkerSpec struct {
	Joint *JointMarkers
	Split *SplitMarkers
}

// Validate enforces the exactly-one rule and basic set sanity.
func (s MarkerSpec) Validate() error {
	switch {
	case s.Joint == nil && s.Split == nil:
		return &ConfigurationError{Reason: "neither joint nor split LM-overview markers supplied"}
	case s.Joint != nil && s.Split != nil:
		return &ConfigurationError{Reason: "both joint and split LM-overview markers supplied; exactly one strategy allowed"}
	}
	return nil
}

// MosaicShift reconciles marker coordinates measured on a mosaic image
// with the single reference overview image: every marker is shifted by
// (overviewMain - mosaicMain), the offset of the shared main feature
// between the two frames. Pure translation, applied once before any
// fit.
func MosaicShift(markers geom.Points, mosaicMain, overviewMain geom.Point) geom.Points {
	return markers.Shift(geom.Point{
		X: overviewMain.X - mosaicMain.X,
		Y: overviewMain.Y - mosaicMain.Y,
	})
}

func validateFitType(stage string, f FitType) error {
	if !f.Valid() {
		return &ConfigurationError{Reason: fmt.Sprintf("unknown %s fit type %q (want %q or %q)", stage, f, FitGl, FitRs)}
	}
	return nil
}
