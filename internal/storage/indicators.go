package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IndicatorResult is one row of the indicator table.
type IndicatorResult struct {
	ID                   int64
	CycleID              uuid.UUID
	Name                 string
	Result               json.RawMessage
	ComputationTimestamp time.Time
}

// InsertIndicatorResults appends a full cycle of indicator rows with a single
// multi-row INSERT in one transaction.
func (d *PostgresDB) InsertIndicatorResults(ctx context.Context, results []IndicatorResult) error {
	if len(results) == 0 {
		return &InsertError{Table: "indicator", Err: ErrNoData}
	}

	ins := sdb.Insert("indicator").Columns("cycle_id", "name", "result", "computation_timestamp")
	for _, r := range results {
		ins = ins.Values(r.CycleID, r.Name, []byte(r.Result), r.ComputationTimestamp)
	}
	query, args, err := ins.ToSql()
	if err != nil {
		return &InsertError{Table: "indicator", Rows: len(results), Err: err}
	}

	err = d.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return &InsertError{Table: "indicator", Rows: len(results), Err: err}
	}
	return nil
}

// GetLatestIndicator returns the most recent result for name, or nil when the
// indicator has never been computed. Ties on computation_timestamp go to the
// later insert.
func (d *PostgresDB) GetLatestIndicator(ctx context.Context, name string) (*IndicatorResult, error) {
	var r IndicatorResult
	var raw []byte
	err := d.pool.QueryRow(ctx, `
		SELECT id, cycle_id, name, result, computation_timestamp
		FROM indicator
		WHERE name = $1
		ORDER BY computation_timestamp DESC, id DESC
		LIMIT 1
	`, name).Scan(&r.ID, &r.CycleID, &r.Name, &raw, &r.ComputationTimestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Result = raw
	return &r, nil
}

// PruneIndicators deletes indicator rows computed before cutoff, always
// keeping the latest row of every indicator.
func (d *PostgresDB) PruneIndicators(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := sdb.Delete("indicator").
		Where(sq.Lt{"computation_timestamp": cutoff}).
		Where(`id NOT IN (
			SELECT DISTINCT ON (name) id FROM indicator
			ORDER BY name, computation_timestamp DESC, id DESC
		)`).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	tag, err := d.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune indicators: %w", err)
	}
	return tag.RowsAffected(), nil
}
