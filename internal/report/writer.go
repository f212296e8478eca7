package report

import (
	"fmt"
	"io"
	"os"

	"github.com/clem-data/clempick/internal/correlation"
	"github.com/clem-data/clempick/internal/geom"
)

// transformEntry pairs a forward transform with the inverse that
// expresses its residual in source-system units.
type transformEntry struct {
	name    string
	forward *geom.Affine
	inverse *geom.Affine
	fromTo  [2]string
}

// WriteText renders the correlation results file: one block per
// transform with its decomposed parameters and residuals, the mode
// extras, and one table per projected spot set.
func WriteText(w io.Writer, c *correlation.Correlation, projections []*correlation.SpotProjection) error {
	if !c.Established() {
		return &correlation.ConfigurationError{Reason: "correlation not established; nothing to report"}
	}

	fmt.Fprintf(w, "Correlation results (mode: %s)\n", c.Mode())
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w)

	entries := []transformEntry{
		{"LM to overview", c.LMToOverview, c.OverviewToLM, [2]string{"lm", "overview"}},
		{"Overview to search", c.OverviewToSearch, c.SearchToOverview, [2]string{"overview", "search"}},
		{"LM to search", c.LMToSearch, c.SearchToLM, [2]string{"lm", "search"}},
	}
	for _, e := range entries {
		if err := writeTransform(w, e); err != nil {
			return err
		}
	}

	if c.Mode() == correlation.ModeMoveOverview {
		writeMoveOverviewExtras(w, c)
	}

	for _, p := range projections {
		writeSpotTable(w, p)
	}
	return nil
}

// WriteTextFile renders the results to a file.
func WriteTextFile(path string, c *correlation.Correlation, projections []*correlation.SpotProjection) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	if err := WriteText(f, c, projections); err != nil {
		return err
	}
	return f.Close()
}

func writeTransform(w io.Writer, e transformEntry) error {
	fmt.Fprintf(w, "%s:\n", e.name)

	dec, err := e.forward.Decompose()
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	parity := 1
	if dec.Parity {
		parity = -1
	}
	fmt.Fprintf(w, "  rotation    = %6.1f deg\n", dec.RotationDegrees())
	fmt.Fprintf(w, "  scale       = [%8.4f, %8.4f]\n", dec.Scale[0], dec.Scale[1])
	fmt.Fprintf(w, "  parity      = %2d\n", parity)
	fmt.Fprintf(w, "  shear       = %7.3f\n", dec.Shear)
	fmt.Fprintf(w, "  translation = [%10.2f, %10.2f]\n", e.forward.D[0], e.forward.D[1])

	writeError(w, e.forward, e.fromTo[1])
	if e.inverse != nil {
		writeError(w, e.inverse, e.fromTo[0])
	}
	if e.forward.HasStageErrors {
		fmt.Fprintf(w, "  gl stage rms          = %8.3f %s units\n", e.forward.LinearRMS, e.fromTo[1])
		fmt.Fprintf(w, "  translation stage rms = %8.3f %s units\n", e.forward.TranslationRMS, e.fromTo[1])
	}
	fmt.Fprintln(w)
	return nil
}

func writeError(w io.Writer, t *geom.Affine, units string) {
	switch t.ErrKind {
	case geom.ErrorExact:
		fmt.Fprintf(w, "  rms error             = %8.3f %s units\n", t.RMS, units)
	case geom.ErrorEstimated:
		fmt.Fprintf(w, "  rms error (estimated) = %8.3f %s units\n", t.RMS, units)
	}
}

func writeMoveOverviewExtras(w io.Writer, c *correlation.Correlation) {
	fmt.Fprintln(w, "Move-overview positions:")
	if c.SearchMain != nil {
		fmt.Fprintf(w, "  main search position = [%10.2f, %10.2f]\n", c.SearchMain.X, c.SearchMain.Y)
	}
	if c.OverviewCenter != nil {
		fmt.Fprintf(w, "  overview center      = [%10.2f, %10.2f]\n", c.OverviewCenter.X, c.OverviewCenter.Y)
		inSearch := c.OverviewToSearch.Apply(*c.OverviewCenter)
		fmt.Fprintf(w, "  overview center in search = [%10.2f, %10.2f]\n", inSearch.X, inSearch.Y)
	}
	fmt.Fprintln(w)
}

func writeSpotTable(w io.Writer, p *correlation.SpotProjection) {
	fmt.Fprintf(w, "Spots given in %s:\n", p.System)
	hasLabels := len(p.Labels) > 0
	if hasLabels {
		fmt.Fprintf(w, "  %-12s %22s %22s %22s\n", "label", "lm", "overview", "search")
	} else {
		fmt.Fprintf(w, "  %22s %22s %22s\n", "lm", "overview", "search")
	}
	for i := range p.LM {
		if hasLabels {
			fmt.Fprintf(w, "  %-12s", p.Labels[i])
		} else {
			fmt.Fprint(w, " ")
		}
		fmt.Fprintf(w, " [%9.2f, %9.2f] [%9.2f, %9.2f] [%9.2f, %9.2f]\n",
			p.LM[i].X, p.LM[i].Y,
			p.Overview[i].X, p.Overview[i].Y,
			p.Search[i].X, p.Search[i].Y)
	}
	fmt.Fprintln(w)
}
