package records

import (
	"context"
	"fmt"
	"time"
)

// ErrTimeout marks a store call that exceeded its deadline.
var ErrTimeout = fmt.Errorf("records: %w", context.DeadlineExceeded)

type timeoutTable struct {
	next    Table
	timeout time.Duration
}

// WithTimeout bounds every call on next by d. A non-positive d returns next unchanged.
func WithTimeout(next Table, d time.Duration) Table {
	if d <= 0 {
		return next
	}
	return &timeoutTable{next: next, timeout: d}
}

func (t *timeoutTable) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.timeout)
}

func (t *timeoutTable) wrap(ctx context.Context, op string, err error) error {
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s after %s: %w", op, t.timeout, ErrTimeout)
	}
	return err
}

func (t *timeoutTable) LookupPatientRow(ctx context.Context, patientID string) (Row, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	row, err := t.next.LookupPatientRow(ctx, patientID)
	return row, t.wrap(ctx, "lookup patient row", err)
}

func (t *timeoutTable) LookupRowsByColumn(ctx context.Context, column, value string) ([]Row, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	rows, err := t.next.LookupRowsByColumn(ctx, column, value)
	return rows, t.wrap(ctx, "lookup rows", err)
}

func (t *timeoutTable) AppendRow(ctx context.Context, cells map[string]string) (int64, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	idx, err := t.next.AppendRow(ctx, cells)
	return idx, t.wrap(ctx, "append row", err)
}

func (t *timeoutTable) UpdateCell(ctx context.Context, row int64, column, value string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap(ctx, "update cell", t.next.UpdateCell(ctx, row, column, value))
}

func (t *timeoutTable) UpdateCells(ctx context.Context, row int64, cells map[string]string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.wrap(ctx, "update cells", t.next.UpdateCells(ctx, row, cells))
}

func (t *timeoutTable) UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	ok, err := t.next.UpdateCellsIf(ctx, row, expect, set)
	return ok, t.wrap(ctx, "conditional update", err)
}
