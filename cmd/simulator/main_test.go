package main

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/tabledump"
	"github.com/signalsfoundry/coulomb-action/model"
	"github.com/signalsfoundry/coulomb-action/timectrl"
)

const smallRun = `
simulation:
  tau: 0.1
  nslice: 4
  box: [4, 4, 4]
species:
  - name: e
    count: 2
    mass: 1
    charge: -1
  - name: p
    count: 2
    mass: 1836
    charge: 1
action:
  order: 1
  grid_points: 60
  use_ewald: true
  ewald:
    strategy: tradEwald
sampler:
  thermalize: 1
  steps: 2
  step_size: 0.2
  seed: 3
logging:
  level: error
`

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if err := root.Execute(); err != nil {
		t.Fatalf("simulator %v: %v", args, err)
	}
	return out.String()
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(smallRun), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTablesCommandDumps(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "tables.db")
	out := runCmd(t, "tables", "--config", writeConfig(t), "--dump", dump)

	for _, want := range []string{"table kind: plain", "ewald: tradEwald", "e-e", "e-p", "p-p", "dumped 3 tables"} {
		if !strings.Contains(out, want) {
			t.Fatalf("tables output missing %q:\n%s", want, out)
		}
	}

	store, err := tabledump.Open(dump)
	if err != nil {
		t.Fatalf("reopen dump: %v", err)
	}
	defer store.Close()
	rows, err := store.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(rows) != 3 || rows[0].RunID == "" {
		t.Fatalf("dumped rows = %+v", rows)
	}
}

func TestMadelungCommand(t *testing.T) {
	out := runCmd(t, "madelung")
	for _, want := range []string{"sc", "cscl", "nacl", "tradEwald", "optEwald"} {
		if !strings.Contains(out, want) {
			t.Fatalf("madelung output missing %q:\n%s", want, out)
		}
	}
}

func TestReferenceLatticesTraditionalAccuracy(t *testing.T) {
	out := runCmd(t, "madelung")
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 5 || fields[1] != "tradEwald" {
			continue
		}
		e, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		ref, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if math.Abs(e-ref) > 1e-4*math.Max(1, math.Abs(ref)) {
			t.Fatalf("%s: energy %v, reference %v", fields[0], e, ref)
		}
	}
}

func TestSampleCommand(t *testing.T) {
	out := runCmd(t, "sample", "--config", writeConfig(t), "--steps", "3")
	for _, want := range []string{"sweeps: 4 (thermalization 1)", "acceptance:", "mean coulomb action:", "mean coulomb energy:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("sample output missing %q:\n%s", want, out)
		}
	}
}

func TestSamplerSweepKeepsActionFinite(t *testing.T) {
	cell, err := model.NewSuperCell(model.Vec3{X: 4, Y: 4, Z: 4})
	if err != nil {
		t.Fatalf("NewSuperCell: %v", err)
	}
	info := &model.SimulationInfo{
		Tau:    0.1,
		NSlice: 4,
		Cell:   cell,
		Species: []model.Species{
			{Name: "e", Count: 2, Mass: 1, Charge: -1},
			{Name: "p", Count: 1, Mass: 1836, Charge: 1},
		},
	}
	action, err := core.New(context.Background(), info, core.Config{Order: 2, NGridPoints: 80})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	smp := newSampler(info, action, 0.3, 11)
	before := smp.totalAction()
	for i := 0; i < 3; i++ {
		if err := smp.sweep(context.Background(), timectrl.Step{Index: i}); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if smp.tried != 3*info.NPart()*info.NSlice {
		t.Fatalf("tried %d moves, want %d", smp.tried, 3*info.NPart()*info.NSlice)
	}
	if smp.accepted == 0 || smp.acceptance() > 1 {
		t.Fatalf("acceptance %d/%d", smp.accepted, smp.tried)
	}
	after := smp.totalAction()
	if math.IsNaN(after) || math.IsInf(after, 0) || math.IsNaN(before) {
		t.Fatalf("action before %v, after %v", before, after)
	}
	if e := smp.energy(); math.IsNaN(e) || math.IsInf(e, 0) {
		t.Fatalf("energy estimator = %v", e)
	}
}
