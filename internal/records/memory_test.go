package records

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTableAppendAndLookup(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable(PatientsSchema)

	idx, err := tbl.AppendRow(ctx, map[string]string{
		"pat num": "PAT-1",
		"Name":    "Jane Doe",
		"DOB":     "2002-09-16",
		"Shoe":    "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx)

	rows, err := tbl.LookupRowsByColumn(ctx, "name", "  JANE DOE ")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2002-09-16", rows[0].Get(ColDOB))
	assert.Equal(t, "", rows[0].Get(ColEmail))
	_, hasUnknown := rows[0].Cells["Shoe"]
	assert.False(t, hasUnknown)

	row, err := tbl.LookupPatientRow(ctx, "PAT-1")
	require.NoError(t, err)
	assert.Equal(t, idx, row.Index)

	_, err = tbl.LookupPatientRow(ctx, "PAT-404")
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err = tbl.LookupRowsByColumn(ctx, "Favourite Colour", "blue")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.Empty(t, rows)

	row, err = tbl.LookupPatientRow(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, idx, row.Index)
}

func TestMemoryTableUniqueKey(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable(AppointmentsSchema)

	_, err := tbl.AppendRow(ctx, map[string]string{ColAppointmentID: "APP-1"})
	require.NoError(t, err)
	_, err = tbl.AppendRow(ctx, map[string]string{ColAppointmentID: "app-1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, tbl.Len())
}

func TestMemoryTableUpdates(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable(AppointmentsSchema)
	idx, err := tbl.AppendRow(ctx, map[string]string{
		ColAppointmentID:     "APP-1",
		ColAppointmentStatus: "Scheduled",
	})
	require.NoError(t, err)

	require.NoError(t, tbl.UpdateCell(ctx, idx, "reason", "Follow-up"))
	require.NoError(t, tbl.UpdateCells(ctx, idx, map[string]string{
		ColAppointmentDate: "2026-10-20",
		ColAppointmentTime: "10:00",
	}))

	ok, err := tbl.UpdateCellsIf(ctx, idx,
		map[string]string{ColAppointmentStatus: "Scheduled"},
		map[string]string{ColAppointmentStatus: "Cancelled"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tbl.UpdateCellsIf(ctx, idx,
		map[string]string{ColAppointmentStatus: "Scheduled"},
		map[string]string{ColAppointmentStatus: "Cancelled"})
	require.NoError(t, err)
	assert.False(t, ok)

	rows := tbl.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Follow-up", rows[0].Get(ColReason))
	assert.Equal(t, "2026-10-20", rows[0].Get(ColAppointmentDate))
	assert.Equal(t, "Cancelled", rows[0].Get(ColAppointmentStatus))

	err = tbl.UpdateCell(ctx, idx, "Nope", "x")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	err = tbl.UpdateCell(ctx, 99, ColReason, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTableConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemoryTable(SymptomsSchema)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tbl.AppendRow(ctx, map[string]string{ColPatientID: "PAT-1"})
		}()
	}
	wg.Wait()

	rows, err := tbl.LookupRowsByColumn(ctx, ColPatientID, "pat-1")
	require.NoError(t, err)
	assert.Len(t, rows, 50)
}

func TestMemoryTableHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryTable(PatientsSchema).AppendRow(ctx, map[string]string{ColName: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
