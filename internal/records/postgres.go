package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresTable stores one table's rows as JSONB in record_rows, keyed by sheet name.
type PostgresTable struct {
	db     dbtx
	schema Schema
}

func NewPostgresTable(pool *pgxpool.Pool, schema Schema) *PostgresTable {
	if pool == nil {
		panic("records: pgx pool required")
	}
	return &PostgresTable{db: pool, schema: schema}
}

func newPostgresTableWithExec(db dbtx, schema Schema) *PostgresTable {
	if db == nil {
		panic("records: exec required")
	}
	return &PostgresTable{db: db, schema: schema}
}

// NewPostgresTables opens the three front desk tables on pool.
func NewPostgresTables(pool *pgxpool.Pool) Tables {
	return Tables{
		Patients:     NewPostgresTable(pool, PatientsSchema),
		Appointments: NewPostgresTable(pool, AppointmentsSchema),
		Symptoms:     NewPostgresTable(pool, SymptomsSchema),
	}
}

const uniqueViolation = "23505"

func (p *PostgresTable) LookupPatientRow(ctx context.Context, patientID string) (Row, error) {
	query := `
		SELECT row_id, cells FROM record_rows
		WHERE sheet = $1 AND lower(cells->>'Pat Num') = lower($2)
		ORDER BY row_id
		LIMIT 1
	`
	var (
		row Row
		raw []byte
	)
	if err := p.db.QueryRow(ctx, query, p.schema.Name, patientID).Scan(&row.Index, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Row{}, ErrNotFound
		}
		return Row{}, fmt.Errorf("records: lookup patient row: %w", err)
	}
	cells, err := decodeCells(raw)
	if err != nil {
		return Row{}, fmt.Errorf("records: lookup patient row: %w", err)
	}
	row.Cells = cells
	return row, nil
}

func (p *PostgresTable) LookupRowsByColumn(ctx context.Context, column, value string) ([]Row, error) {
	col, ok := p.schema.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, p.schema.Name, column)
	}
	query := `
		SELECT row_id, cells FROM record_rows
		WHERE sheet = $1 AND lower(btrim(cells->>$2)) = lower(btrim($3))
		ORDER BY row_id
	`
	rows, err := p.db.Query(ctx, query, p.schema.Name, col, value)
	if err != nil {
		return nil, fmt.Errorf("records: lookup rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row Row
			raw []byte
		)
		if err := rows.Scan(&row.Index, &raw); err != nil {
			return nil, fmt.Errorf("records: scan row: %w", err)
		}
		if row.Cells, err = decodeCells(raw); err != nil {
			return nil, fmt.Errorf("records: scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: lookup rows: %w", err)
	}
	return out, nil
}

func (p *PostgresTable) AppendRow(ctx context.Context, cells map[string]string) (int64, error) {
	payload, err := json.Marshal(p.schema.Fill(cells))
	if err != nil {
		return 0, fmt.Errorf("records: encode row: %w", err)
	}
	query := `
		INSERT INTO record_rows (sheet, cells)
		VALUES ($1, $2::jsonb)
		RETURNING row_id
	`
	var id int64
	if err := p.db.QueryRow(ctx, query, p.schema.Name, string(payload)).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return 0, fmt.Errorf("records: append row: %w", err)
	}
	return id, nil
}

func (p *PostgresTable) UpdateCell(ctx context.Context, row int64, column, value string) error {
	return p.UpdateCells(ctx, row, map[string]string{column: value})
}

func (p *PostgresTable) UpdateCells(ctx context.Context, row int64, cells map[string]string) error {
	patch, err := p.encodeSubset(cells)
	if err != nil {
		return err
	}
	query := `
		UPDATE record_rows
		SET cells = cells || $3::jsonb, updated_at = now()
		WHERE sheet = $1 AND row_id = $2
	`
	ct, err := p.db.Exec(ctx, query, p.schema.Name, row, patch)
	if err != nil {
		return fmt.Errorf("records: update cells: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresTable) UpdateCellsIf(ctx context.Context, row int64, expect, set map[string]string) (bool, error) {
	want, err := p.encodeSubset(expect)
	if err != nil {
		return false, err
	}
	patch, err := p.encodeSubset(set)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE record_rows
		SET cells = cells || $3::jsonb, updated_at = now()
		WHERE sheet = $1 AND row_id = $2 AND cells @> $4::jsonb
	`
	ct, err := p.db.Exec(ctx, query, p.schema.Name, row, patch, want)
	if err != nil {
		return false, fmt.Errorf("records: conditional update: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (p *PostgresTable) encodeSubset(cells map[string]string) (string, error) {
	sub, err := p.schema.Subset(cells)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("records: encode cells: %w", err)
	}
	return string(payload), nil
}

func decodeCells(raw []byte) (map[string]string, error) {
	cells := map[string]string{}
	if len(raw) == 0 {
		return cells, nil
	}
	if err := json.Unmarshal(raw, &cells); err != nil {
		return nil, fmt.Errorf("decode cells: %w", err)
	}
	return cells, nil
}
