package tabledump

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/logging"
	"github.com/signalsfoundry/coulomb-action/model"
)

var _ core.TableSink = (*Store)(nil)

func TestEngineDumpsEveryTable(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "tables.db"))
	require.NoError(t, err)
	defer store.Close()

	cell, err := model.NewSuperCell(model.Vec3{X: 3, Y: 3, Z: 3})
	require.NoError(t, err)
	info := &model.SimulationInfo{
		Tau:    0.1,
		NSlice: 4,
		Cell:   cell,
		Species: []model.Species{
			{Name: "e", Count: 2, Mass: 1, Charge: -1},
			{Name: "p", Count: 1, Mass: 1836, Charge: 1},
		},
	}
	ctx, runID := logging.EnsureRunID(context.Background())
	action, err := core.New(ctx, info, core.Config{Order: 2, NGridPoints: 40, DumpTables: true}, core.WithTableSink(store))
	require.NoError(t, err)

	rows, err := store.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, rows, len(action.Tables()))
	for i, row := range rows {
		tab := action.Tables()[i]
		assert.Equal(t, runID, row.RunID)
		assert.Equal(t, tab.Pair().String(), row.Pair)
		assert.Equal(t, "plain", row.Kind)
		assert.Equal(t, 2, row.Order)
		assert.Equal(t, 40, row.Points)
		assert.Equal(t, 1, row.NImages)
		rmin, rmax := tab.Grid().Range()
		assert.InDelta(t, rmin, row.RMin, 1e-15)
		assert.InDelta(t, rmax, row.RMax, 1e-15)

		samples, err := store.Samples(ctx, row.ID, 1)
		require.NoError(t, err)
		require.Len(t, samples, 40)
		want := tab.Samples()[40:80]
		for j, s := range samples {
			assert.Equal(t, 1, s.Order)
			assert.InDelta(t, want[j].R, s.R, 1e-12)
			assert.InDelta(t, want[j].U, s.U, 1e-12*(1+math.Abs(want[j].U)))
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	rows, err := second.Tables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
