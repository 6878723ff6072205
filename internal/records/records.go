// Package records is the tabular Record Store boundary: named tables with a
// fixed header, addressed by row lookup, append and cell update.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("records: not found")
	// ErrDuplicate is returned when an append collides with a table's unique key.
	ErrDuplicate = errors.New("records: duplicate key")
	// ErrUnknownColumn is returned when a lookup or update names a column outside the header.
	ErrUnknownColumn = errors.New("records: unknown column")
)

// Column names shared by the core.
const (
	ColPatientID          = "Pat Num"
	ColName               = "Name"
	ColDOB                = "DOB"
	ColEmail              = "Email"
	ColAppointmentID      = "App Num"
	ColAppointmentDate    = "Appointment Date"
	ColAppointmentTime    = "Appointment Time"
	ColAppointmentStatus  = "Appointment Status"
	ColReason             = "Reason"
	ColCancellationReason = "Cancellation Reason"
	ColTimestamp          = "Timestamp"
	ColSymptomType        = "Symptom Type"
	ColSymptomDescription = "Symptom Description"
	ColSeverity           = "Severity"
	ColReviewStatus       = "Review Status"
)

// Schema describes one table: its header and optional unique column.
type Schema struct {
	Name    string
	Columns []string
	Key     string
}

var (
	PatientsSchema = Schema{
		Name:    "patients",
		Columns: []string{ColPatientID, ColName, ColDOB, ColEmail},
		Key:     ColPatientID,
	}
	AppointmentsSchema = Schema{
		Name: "appointments",
		Columns: []string{
			ColAppointmentID, ColPatientID, ColAppointmentDate, ColAppointmentTime,
			ColAppointmentStatus, ColReason, ColCancellationReason, ColTimestamp,
		},
		Key: ColAppointmentID,
	}
	SymptomsSchema = Schema{
		Name: "symptoms",
		Columns: []string{
			ColPatientID, ColTimestamp, ColSymptomType, ColSymptomDescription,
			ColSeverity, ColReviewStatus,
		},
	}
)

// Column resolves name against the header ignoring case.
func (s Schema) Column(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range s.Columns {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// Fill maps cells onto the header: unknown columns are dropped, missing ones left blank.
func (s Schema) Fill(cells map[string]string) map[string]string {
	out := make(map[string]string, len(s.Columns))
	for _, c := range s.Columns {
		out[c] = ""
	}
	for k, v := range cells {
		if c, ok := s.Column(k); ok {
			out[c] = v
		}
	}
	return out
}

// Subset canonicalizes the column names of a partial row and rejects unknown ones.
func (s Schema) Subset(cells map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(cells))
	for k, v := range cells {
		c, ok := s.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, s.Name, k)
		}
		out[c] = v
	}
	return out, nil
}

// Row is one table row. Index is stable for the life of the row.
type Row struct {
	Index int64
	Cells map[string]string
}

// Get returns a cell value, blank when absent.
func (r Row) Get(column string) string {
	if v, ok := r.Cells[column]; ok {
		return v
	}
	for k, v := range r.Cells {
		if strings.EqualFold(k, column) {
			return v
		}
	}
	return ""
}

// Table is the Record Store adapter for one table.
type Table interface {
	// LookupPatientRow returns the first row whose Pat Num equals patientID, ignoring case.
	LookupPatientRow(ctx context.Context, patientID string) (Row, error)
	// LookupRowsByColumn returns every row whose column matches value, ignoring case, in row order.
	// A column outside the header is ErrUnknownColumn.
	LookupRowsByColumn(ctx context.Context, column, value string) ([]Row, error)
	// AppendRow writes a new row and returns its index.
	AppendRow(ctx context.Context, cells map[string]string) (int64, error)
	UpdateCell(ctx context.Context, row int64, column, value string) error
	// UpdateCells writes several cells of one row as a single mutation.
	UpdateCells(ctx context.Context, row int64, cells map[string]string) error
	// UpdateCellsIf applies set only when every cell in expect still holds.
	// It reports whether the update was applied.
	UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error)
}

// Tables groups the three tables the front desk uses.
type Tables struct {
	Patients     Table
	Appointments Table
	Symptoms     Table
}

// Map applies wrap to each table.
func (t Tables) Map(wrap func(name string, tbl Table) Table) Tables {
	return Tables{
		Patients:     wrap(PatientsSchema.Name, t.Patients),
		Appointments: wrap(AppointmentsSchema.Name, t.Appointments),
		Symptoms:     wrap(SymptomsSchema.Name, t.Symptoms),
	}
}
