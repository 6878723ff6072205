package records

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryTable is an in-process Table. Row indexes start at 2 so they line up
// with a spreadsheet whose first row is the header.
type MemoryTable struct {
	schema Schema
	mu     sync.RWMutex
	rows   []map[string]string
}

// NewMemoryTable creates an empty table for schema.
func NewMemoryTable(schema Schema) *MemoryTable {
	return &MemoryTable{schema: schema}
}

// NewMemoryTables creates empty patients, appointments and symptoms tables.
func NewMemoryTables() Tables {
	return Tables{
		Patients:     NewMemoryTable(PatientsSchema),
		Appointments: NewMemoryTable(AppointmentsSchema),
		Symptoms:     NewMemoryTable(SymptomsSchema),
	}
}

const firstRowIndex = 2

func (m *MemoryTable) LookupPatientRow(ctx context.Context, patientID string) (Row, error) {
	rows, err := m.LookupRowsByColumn(ctx, ColPatientID, patientID)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, ErrNotFound
	}
	return rows[0], nil
}

func (m *MemoryTable) LookupRowsByColumn(ctx context.Context, column, value string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, ok := m.schema.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, m.schema.Name, column)
	}
	value = strings.TrimSpace(value)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Row
	for i, cells := range m.rows {
		if strings.EqualFold(strings.TrimSpace(cells[col]), value) {
			out = append(out, Row{Index: int64(i + firstRowIndex), Cells: copyCells(cells)})
		}
	}
	return out, nil
}

func (m *MemoryTable) AppendRow(ctx context.Context, cells map[string]string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	row := m.schema.Fill(cells)

	m.mu.Lock()
	defer m.mu.Unlock()
	if key := m.schema.Key; key != "" && row[key] != "" {
		for _, existing := range m.rows {
			if strings.EqualFold(existing[key], row[key]) {
				return 0, fmt.Errorf("%w: %s %s", ErrDuplicate, key, row[key])
			}
		}
	}
	m.rows = append(m.rows, row)
	return int64(len(m.rows) - 1 + firstRowIndex), nil
}

func (m *MemoryTable) UpdateCell(ctx context.Context, row int64, column, value string) error {
	return m.UpdateCells(ctx, row, map[string]string{column: value})
}

func (m *MemoryTable) UpdateCells(ctx context.Context, row int64, cells map[string]string) error {
	_, err := m.UpdateCellsIf(ctx, row, nil, cells)
	return err
}

func (m *MemoryTable) UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	want, err := m.schema.Subset(expect)
	if err != nil {
		return false, err
	}
	patch, err := m.schema.Subset(set)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	i := int(row) - firstRowIndex
	if i < 0 || i >= len(m.rows) {
		return false, ErrNotFound
	}
	cells := m.rows[i]
	for k, v := range want {
		if cells[k] != v {
			return false, nil
		}
	}
	for k, v := range patch {
		cells[k] = v
	}
	return true, nil
}

// Len returns the number of rows.
func (m *MemoryTable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Rows returns a snapshot of every row.
func (m *MemoryTable) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, len(m.rows))
	for i, cells := range m.rows {
		out[i] = Row{Index: int64(i + firstRowIndex), Cells: copyCells(cells)}
	}
	return out
}

func copyCells(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
