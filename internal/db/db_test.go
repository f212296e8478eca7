package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clem-data/clempick/internal/particles"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.MigrateUp())
	return d
}

func TestMigrateUp_Version(t *testing.T) {
	d := openTestDB(t)
	version, dirty, err := d.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty {
		t.Error("schema is dirty after clean migration")
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}

	// Running up again is a no-op.
	if err := d.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp: %v", err)
	}
}

func TestInsertAndQueryParticles(t *testing.T) {
	d := openTestDB(t)

	std := 2.0
	run := Run{ID: "run-1", BoxSize: 32, DType: "int16", Std: &std}
	require.NoError(t, d.InsertRun(run))

	rows := []particles.CatalogRow{
		{Identifier: "tomoA", GroupName: "ctrl", ID: 3, TomoPath: "/data/a.mrc",
			ParticlePath: "/out/tomoA_id-3.mrc", LeftX: 10, LeftY: 20, LeftZ: 30},
		{Identifier: "tomoA", GroupName: "ctrl", ID: 7, TomoPath: "/data/a.mrc",
			ParticlePath: "/out/tomoA_id-7.mrc", LeftX: 40, LeftY: 50, LeftZ: 60},
	}
	if err := d.InsertParticles("run-1", false, rows); err != nil {
		t.Fatalf("InsertParticles: %v", err)
	}

	got, err := d.ParticlesForRun("run-1")
	if err != nil {
		t.Fatalf("ParticlesForRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d particles, want 2", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 7 {
		t.Errorf("insertion order not preserved: %d, %d", got[0].ID, got[1].ID)
	}
	if got[0].LeftX != 10 || got[0].LeftY != 20 || got[0].LeftZ != 30 {
		t.Errorf("left corner = (%d,%d,%d)", got[0].LeftX, got[0].LeftY, got[0].LeftZ)
	}
	if got[0].IsLabel {
		t.Error("density particle marked as label")
	}

	runs, err := d.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" || runs[0].BoxSize != 32 {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Std == nil || *runs[0].Std != 2 {
		t.Errorf("std = %v, want 2", runs[0].Std)
	}
	if runs[0].Mean != nil {
		t.Errorf("mean = %v, want nil", runs[0].Mean)
	}
}

func TestInsertParticles_UnknownRunRejected(t *testing.T) {
	d := openTestDB(t)
	err := d.InsertParticles("no-such-run", false, []particles.CatalogRow{
		{Identifier: "x", ParticlePath: "/out/x.mrc"},
	})
	if err == nil {
		t.Fatal("expected foreign key violation for unknown run")
	}
}

func TestInsertParticles_LabelFlag(t *testing.T) {
	d := openTestDB(t)
	if err := d.InsertRun(Run{ID: "run-2", BoxSize: 16}); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
	if err := d.InsertParticles("run-2", true, []particles.CatalogRow{
		{Identifier: "tomoB", GroupName: "treated", ID: 1,
			ParticlePath: "/out/tomoB_id-1_label.mrc"},
	}); err != nil {
		t.Fatalf("InsertParticles: %v", err)
	}
	got, err := d.ParticlesForRun("run-2")
	if err != nil {
		t.Fatalf("ParticlesForRun: %v", err)
	}
	if len(got) != 1 || !got[0].IsLabel {
		t.Fatalf("got = %+v, want one label particle", got)
	}
}
