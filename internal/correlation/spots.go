package correlation

import (
	"fmt"

	"github.com/clem-data/clempick/internal/geom"
)

// SpotSet is a set of target points defined in one system, optionally
// paired with text labels. Spots are projected, never fitted.
type SpotSet struct {
	System System
	Points geom.Points
	Labels []string
}

// SpotProjection holds a spot set's coordinates in all three systems.
// The entry for the defining system is the original input.
type SpotProjection struct {
	System   System
	Labels   []string
	LM       geom.Points
	Overview geom.Points
	Search   geom.Points
}

// ProjectSpots maps a spot set into the other two systems using the
// established transforms: forward along the chain, the corresponding
// inverse against it. The correlation is not mutated.
func (c *Correlation) ProjectSpots(set SpotSet) (*SpotProjection, error) {
	if !c.Established() {
		return nil, fmt.Errorf("project spots: pipeline is %s, want %s", c.stage, StageEstablished)
	}
	if set.Labels != nil && len(set.Labels) != len(set.Points) {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("%d spot labels for %d spots; supply one per spot or none", len(set.Labels), len(set.Points)),
		}
	}

	proj := &SpotProjection{System: set.System, Labels: set.Labels}
	switch set.System {
	case SystemLM:
		proj.LM = set.Points
		proj.Overview = c.LMToOverview.Transform(set.Points)
		proj.Search = c.LMToSearch.Transform(set.Points)
	case SystemOverview:
		proj.Overview = set.Points
		proj.LM = c.OverviewToLM.Transform(set.Points)
		proj.Search = c.OverviewToSearch.Transform(set.Points)
	case SystemSearch:
		proj.Search = set.Points
		proj.LM = c.SearchToLM.Transform(set.Points)
		proj.Overview = c.SearchToOverview.Transform(set.Points)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown spot system %q", set.System)}
	}
	return proj, nil
}

// ProjectAll projects every non-empty spot set and preserves input
// order. Sets with no points are skipped.
func (c *Correlation) ProjectAll(sets []SpotSet) ([]*SpotProjection, error) {
	out := make([]*SpotProjection, 0, len(sets))
	for _, set := range sets {
		if len(set.Points) == 0 {
			continue
		}
		proj, err := c.ProjectSpots(set)
		if err != nil {
			return nil, err
		}
		out = append(out, proj)
	}
	return out, nil
}
