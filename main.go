package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clem-data/clempick/internal/correlation"
	"github.com/clem-data/clempick/internal/db"
	"github.com/clem-data/clempick/internal/particles"
	"github.com/clem-data/clempick/internal/report"
	"github.com/clem-data/clempick/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: clempick <command> [flags]

Commands:
  correlate   fit the LM / overview / search correlation and project spots
  extract     cut particle sub-volumes out of tomograms at label positions
  migrate     manage the particle catalog database schema
  version     print build information

Run 'clempick <command> -h' for command flags.
`)
}

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "correlate":
		err = runCorrelate(os.Args[2:])
	case "extract":
		err = runExtract(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		fmt.Println(version.String())
		return
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runCorrelate(args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to correlate config (JSON)")
	reportPath := fs.String("report", "", "Write results to this file instead of stdout")
	plotDir := fs.String("plot", "", "Directory for marker scatter PNG and spot chart HTML")
	fs.Parse(args)

	if *configPath == "" {
		return fmt.Errorf("-config is required")
	}
	cfg, err := LoadCorrelateConfig(*configPath)
	if err != nil {
		return err
	}

	params, err := cfg.EstablishParams()
	if err != nil {
		return err
	}
	c, err := correlation.Establish(params)
	if err != nil {
		return err
	}

	sets, err := cfg.SpotSets()
	if err != nil {
		return err
	}
	projections, err := c.ProjectAll(sets)
	if err != nil {
		return err
	}

	if *reportPath != "" {
		if err := report.WriteTextFile(*reportPath, c, projections); err != nil {
			return err
		}
		log.Printf("[Correlate] Wrote results to %s", *reportPath)
	} else if err := report.WriteText(os.Stdout, c, projections); err != nil {
		return err
	}

	if *plotDir != "" {
		if err := writePlots(*plotDir, c, projections); err != nil {
			return err
		}
	}
	return nil
}

func writePlots(dir string, c *correlation.Correlation, projections []*correlation.SpotProjection) error {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}

	// The residual scatter needs joint markers; split fits have no
	// single matched marker list to overlay.
	if c.Markers.Joint != nil {
		pngPath := filepath.Join(dir, "markers.png")
		projected := c.LMToOverview.Transform(c.Markers.Joint.LM)
		if err := report.SaveMarkerScatter(pngPath, c.Markers.Joint.Overview, projected); err != nil {
			return err
		}
		log.Printf("[Correlate] Wrote marker scatter to %s", pngPath)
	}

	htmlPath := filepath.Join(dir, "spots.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return fmt.Errorf("create spot chart: %w", err)
	}
	defer f.Close()
	if err := report.RenderSpotChart(f, projections); err != nil {
		return err
	}
	log.Printf("[Correlate] Wrote spot chart to %s", htmlPath)
	return f.Close()
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to extract config (JSON)")
	dbPath := fs.String("db", "", "Catalog database to record the run in (optional)")
	fs.Parse(args)

	if *configPath == "" {
		return fmt.Errorf("-config is required")
	}
	cfg, err := LoadExtractConfig(*configPath)
	if err != nil {
		return err
	}

	ex, err := particles.NewExtractor(cfg.ExtractorConfig())
	if err != nil {
		return err
	}
	log.Printf("[Extract] Starting run %s", ex.RunID())

	groups := cfg.ExtractorGroups()
	identifiers := cfg.ExtractIdentifiers()

	var failures int
	if cfg.ContinueOnError {
		for _, ident := range identifiers {
			if _, err := ex.ExtractBatch(groups, []string{ident}); err != nil {
				log.Printf("[Extract] %v (continuing)", err)
				failures++
			}
		}
	} else if _, err := ex.ExtractBatch(groups, identifiers); err != nil {
		return err
	}

	log.Printf("[Extract] Run %s: %d particles catalogued", ex.RunID(), ex.Catalog.Len())

	if *dbPath != "" {
		if err := persistRun(*dbPath, cfg, ex); err != nil {
			return err
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d dataset(s) failed", failures)
	}
	return nil
}

func persistRun(path string, cfg *ExtractConfig, ex *particles.Extractor) error {
	d, err := db.New(path)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.MigrateUp(); err != nil {
		return err
	}

	run := db.Run{ID: ex.RunID(), BoxSize: *cfg.BoxSize, DType: cfg.DType, Mean: cfg.Mean, Std: cfg.Std}
	if err := d.InsertRun(run); err != nil {
		return err
	}
	if err := d.InsertParticles(ex.RunID(), false, ex.Catalog.Rows()); err != nil {
		return err
	}
	if err := d.InsertParticles(ex.RunID(), true, ex.LabelCatalog.Rows()); err != nil {
		return err
	}
	log.Printf("[Extract] Catalogued run %s in %s", ex.RunID(), path)
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "", "Path to catalog database")
	down := fs.Bool("down", false, "Roll back the most recent migration instead of migrating up")
	fs.Parse(args)

	if *dbPath == "" {
		return fmt.Errorf("-db is required")
	}
	d, err := db.New(*dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	if *down {
		if err := d.MigrateDown(); err != nil {
			return err
		}
	} else if err := d.MigrateUp(); err != nil {
		return err
	}

	version, dirty, err := d.MigrateVersion()
	if err != nil {
		return err
	}
	log.Printf("[Migrate] %s at schema version %d (dirty=%v)", *dbPath, version, dirty)
	return nil
}
