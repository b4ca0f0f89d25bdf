package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// dialect selects the binding rules of the destination store.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// upsertSQL builds the idempotent write for one replicated row. The same
// statement shape works on both sides: ON CONFLICT (id) DO UPDATE makes
// re-applying a row after a crash or a stalled watermark harmless.
func upsertSQL(table string, columns []Column) string {
	names := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	assignments := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted := pq.QuoteIdentifier(col.Name)
		names = append(names, quoted)
		placeholders = append(placeholders, "?")
		if col.Name == "id" {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", quoted, quoted))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pq.QuoteIdentifier(table),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		pq.QuoteIdentifier("id"),
		strings.Join(assignments, ", "),
	)
}

// bindRow orders and normalizes a scanned row into the argument list for
// upsertSQL. Missing columns bind as NULL. Array columns bind natively on
// Postgres and as JSON text on SQLite.
func bindRow(columns []Column, row map[string]any, dest dialect) ([]any, error) {
	args := make([]any, 0, len(columns))
	for _, col := range columns {
		value, err := normalize(col.Kind, row[col.Name])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		if col.Kind == KindArray && value != nil {
			value, err = bindArray(value, dest)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
		args = append(args, value)
	}
	return args, nil
}

func bindArray(value any, dest dialect) (any, error) {
	elements, err := arrayElements(value)
	if err != nil {
		return nil, err
	}
	if dest == dialectPostgres {
		return pq.Array(elements), nil
	}
	encoded, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("encode array: %w", err)
	}
	return string(encoded), nil
}

func arrayElements(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		var decoded []string
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("bad array type %T", value)
}
