// Package recordstest provides Table doubles for tests.
package recordstest

import (
	"context"
	"sync/atomic"

	"github.com/wolfman30/clinic-frontdesk/internal/records"
)

// Counting wraps a Table and counts every call.
type Counting struct {
	Next  records.Table
	calls atomic.Int64
}

// NewCounting wraps next, or an empty memory table for schema when next is nil.
func NewCounting(next records.Table, schema records.Schema) *Counting {
	if next == nil {
		next = records.NewMemoryTable(schema)
	}
	return &Counting{Next: next}
}

// CountingTables wraps each of t.
func CountingTables(t records.Tables) (records.Tables, *Counting, *Counting, *Counting) {
	p := NewCounting(t.Patients, records.PatientsSchema)
	a := NewCounting(t.Appointments, records.AppointmentsSchema)
	s := NewCounting(t.Symptoms, records.SymptomsSchema)
	return records.Tables{Patients: p, Appointments: a, Symptoms: s}, p, a, s
}

// Calls returns the number of calls made so far.
func (c *Counting) Calls() int64 { return c.calls.Load() }

func (c *Counting) LookupPatientRow(ctx context.Context, patientID string) (records.Row, error) {
	c.calls.Add(1)
	return c.Next.LookupPatientRow(ctx, patientID)
}

func (c *Counting) LookupRowsByColumn(ctx context.Context, column, value string) ([]records.Row, error) {
	c.calls.Add(1)
	return c.Next.LookupRowsByColumn(ctx, column, value)
}

func (c *Counting) AppendRow(ctx context.Context, cells map[string]string) (int64, error) {
	c.calls.Add(1)
	return c.Next.AppendRow(ctx, cells)
}

func (c *Counting) UpdateCell(ctx context.Context, row int64, column, value string) error {
	c.calls.Add(1)
	return c.Next.UpdateCell(ctx, row, column, value)
}

func (c *Counting) UpdateCells(ctx context.Context, row int64, cells map[string]string) error {
	c.calls.Add(1)
	return c.Next.UpdateCells(ctx, row, cells)
}

func (c *Counting) UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error) {
	c.calls.Add(1)
	return c.Next.UpdateCellsIf(ctx, row, expect, set)
}

// Failing returns Err from every call.
type Failing struct {
	Err error
}

func (f Failing) LookupPatientRow(context.Context, string) (records.Row, error) {
	return records.Row{}, f.Err
}

func (f Failing) LookupRowsByColumn(context.Context, string, string) ([]records.Row, error) {
	return nil, f.Err
}

func (f Failing) AppendRow(context.Context, map[string]string) (int64, error) {
	return 0, f.Err
}

func (f Failing) UpdateCell(context.Context, int64, string, string) error {
	return f.Err
}

func (f Failing) UpdateCells(context.Context, int64, map[string]string) error {
	return f.Err
}

func (f Failing) UpdateCellsIf(context.Context, int64, map[string]string, map[string]string) (bool, error) {
	return false, f.Err
}

// Blocking waits for the context on every call.
type Blocking struct{}

func (Blocking) LookupPatientRow(ctx context.Context, _ string) (records.Row, error) {
	<-ctx.Done()
	return records.Row{}, ctx.Err()
}

func (Blocking) LookupRowsByColumn(ctx context.Context, _, _ string) ([]records.Row, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (Blocking) AppendRow(ctx context.Context, _ map[string]string) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (Blocking) UpdateCell(ctx context.Context, _ int64, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (Blocking) UpdateCells(ctx context.Context, _ int64, _ map[string]string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (Blocking) UpdateCellsIf(ctx context.Context, _ int64, _, _ map[string]string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}
