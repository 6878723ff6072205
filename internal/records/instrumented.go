package records

import (
	"context"
	"errors"
	"time"
)

// StoreObserver receives one call per store operation.
type StoreObserver interface {
	ObserveStoreCall(table, op string, err error, elapsed time.Duration)
}

type instrumentedTable struct {
	next  Table
	name  string
	obs   StoreObserver
	clock func() time.Time
}

// Instrument reports every call on next to obs under the table name.
func Instrument(next Table, name string, obs StoreObserver) Table {
	if obs == nil {
		return next
	}
	return &instrumentedTable{next: next, name: name, obs: obs, clock: time.Now}
}

func (t *instrumentedTable) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	t.obs.ObserveStoreCall(t.name, op, err, t.clock().Sub(start))
}

func (t *instrumentedTable) LookupPatientRow(ctx context.Context, patientID string) (Row, error) {
	start := t.clock()
	row, err := t.next.LookupPatientRow(ctx, patientID)
	t.observe("lookup_patient", start, err)
	return row, err
}

func (t *instrumentedTable) LookupRowsByColumn(ctx context.Context, column, value string) ([]Row, error) {
	start := t.clock()
	rows, err := t.next.LookupRowsByColumn(ctx, column, value)
	t.observe("lookup_rows", start, err)
	return rows, err
}

func (t *instrumentedTable) AppendRow(ctx context.Context, cells map[string]string) (int64, error) {
	start := t.clock()
	idx, err := t.next.AppendRow(ctx, cells)
	t.observe("append", start, err)
	return idx, err
}

func (t *instrumentedTable) UpdateCell(ctx context.Context, row int64, column, value string) error {
	start := t.clock()
	err := t.next.UpdateCell(ctx, row, column, value)
	t.observe("update", start, err)
	return err
}

func (t *instrumentedTable) UpdateCells(ctx context.Context, row int64, cells map[string]string) error {
	start := t.clock()
	err := t.next.UpdateCells(ctx, row, cells)
	t.observe("update", start, err)
	return err
}

func (t *instrumentedTable) UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error) {
	start := t.clock()
	ok, err := t.next.UpdateCellsIf(ctx, row, expect, set)
	t.observe("update_if", start, err)
	return ok, err
}
