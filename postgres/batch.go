package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CopyStructs streams items into table with COPY, one row per item.
func CopyStructs[T any](
	ctx context.Context,
	db DBPool,
	table string,
	columns []string,
	items []T,
	row func(T) []any,
) (int64, error) {
	if db == nil {
		return 0, ErrConnectionPoolNil
	}

	if len(items) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(items))
	for idx, item := range items {
		rows[idx] = row(item)
	}

	count, err := db.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into %s: %w", table, err)
	}

	return count, nil
}
