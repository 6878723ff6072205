package records_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/internal/records/recordstest"
)

func TestWithTimeoutReturnsErrTimeout(t *testing.T) {
	tbl := records.WithTimeout(recordstest.Blocking{}, 20*time.Millisecond)

	start := time.Now()
	_, err := tbl.AppendRow(context.Background(), map[string]string{records.ColName: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, records.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	inner := records.NewMemoryTable(records.PatientsSchema)
	tbl := records.WithTimeout(inner, time.Second)

	_, err := tbl.AppendRow(context.Background(), map[string]string{records.ColPatientID: "PAT-1"})
	require.NoError(t, err)
	_, err = tbl.LookupPatientRow(context.Background(), "PAT-2")
	assert.ErrorIs(t, err, records.ErrNotFound)
	assert.NotErrorIs(t, err, records.ErrTimeout)

	assert.Same(t, inner, records.WithTimeout(inner, 0))
}

type observation struct {
	table, op string
	failed    bool
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recordingObserver) ObserveStoreCall(table, op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{table: table, op: op, failed: err != nil})
}

func TestInstrumentReportsCalls(t *testing.T) {
	obs := &recordingObserver{}
	tables := records.NewMemoryTables().Map(func(name string, tbl records.Table) records.Table {
		return records.Instrument(tbl, name, obs)
	})
	ctx := context.Background()

	_, err := tables.Patients.AppendRow(ctx, map[string]string{records.ColPatientID: "PAT-1"})
	require.NoError(t, err)
	_, err = tables.Patients.LookupPatientRow(ctx, "PAT-9")
	require.ErrorIs(t, err, records.ErrNotFound)

	failing := records.Instrument(recordstest.Failing{Err: errors.New("down")}, "symptoms", obs)
	_, err = failing.AppendRow(ctx, nil)
	require.Error(t, err)

	assert.Equal(t, []observation{
		{table: "patients", op: "append"},
		{table: "patients", op: "lookup_patient"},
		{table: "symptoms", op: "append", failed: true},
	}, obs.seen)
}

func TestCountingTable(t *testing.T) {
	tables, patients, appts, symptoms := recordstest.CountingTables(records.NewMemoryTables())
	ctx := context.Background()

	_, _ = tables.Patients.LookupRowsByColumn(ctx, records.ColName, "x")
	_, _ = tables.Appointments.AppendRow(ctx, map[string]string{records.ColAppointmentID: "APP-1"})
	_, _ = tables.Appointments.UpdateCellsIf(ctx, 2, nil, map[string]string{records.ColReason: "r"})

	assert.Equal(t, int64(1), patients.Calls())
	assert.Equal(t, int64(2), appts.Calls())
	assert.Equal(t, int64(0), symptoms.Calls())
}
