package sync

import (
	"fmt"
	"strconv"
	"time"
)

// ColumnKind drives value normalization between the embedded store and the
// cloud database. SQLite hands back integers for booleans and strings for
// timestamps; the cloud side wants native types.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindNumeric
	KindBoolean
	KindTimestamp
	KindJSON
	KindUUID
	KindArray
)

// Column describes one replicated column.
type Column struct {
	Name string
	Kind ColumnKind
}

// TableSpec describes one replicated table. Every spec carries an id primary
// key and an updated_at change cursor; upstream tables additionally carry a
// synced_at stamp maintained on the local side only.
type TableSpec struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the replicated column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// UpstreamTables lists venue-authoritative tables pushed local-to-cloud.
func UpstreamTables() []TableSpec {
	return []TableSpec{
		{
			Name: "orders",
			Columns: []Column{
				{Name: "id", Kind: KindUUID},
				{Name: "cloud_order_id", Kind: KindUUID},
				{Name: "terminal_id", Kind: KindText},
				{Name: "employee_id", Kind: KindUUID},
				{Name: "status", Kind: KindText},
				{Name: "total_cents", Kind: KindNumeric},
				{Name: "tip_cents", Kind: KindNumeric},
				{Name: "items", Kind: KindJSON},
				// Applied discount codes; stored as JSON text locally and a
				// native array on the cloud side.
				{Name: "discounts", Kind: KindArray},
				{Name: "closed_at", Kind: KindTimestamp},
				{Name: "created_at", Kind: KindTimestamp},
				{Name: "updated_at", Kind: KindTimestamp},
			},
		},
		{
			Name: "shifts",
			Columns: []Column{
				{Name: "id", Kind: KindUUID},
				{Name: "employee_id", Kind: KindUUID},
				{Name: "terminal_id", Kind: KindText},
				{Name: "opened_at", Kind: KindTimestamp},
				{Name: "closed_at", Kind: KindTimestamp},
				{Name: "cash_cents", Kind: KindNumeric},
				{Name: "created_at", Kind: KindTimestamp},
				{Name: "updated_at", Kind: KindTimestamp},
			},
		},
	}
}

// DownstreamTables lists cloud-authoritative tables pulled cloud-to-local.
func DownstreamTables() []TableSpec {
	return []TableSpec{
		{
			Name: "menu_items",
			Columns: []Column{
				{Name: "id", Kind: KindUUID},
				{Name: "name", Kind: KindText},
				{Name: "category", Kind: KindText},
				{Name: "price_cents", Kind: KindNumeric},
				{Name: "available", Kind: KindBoolean},
				{Name: "modifiers", Kind: KindJSON},
				{Name: "created_at", Kind: KindTimestamp},
				{Name: "updated_at", Kind: KindTimestamp},
			},
		},
		{
			Name: "employees",
			Columns: []Column{
				{Name: "id", Kind: KindUUID},
				{Name: "name", Kind: KindText},
				{Name: "role", Kind: KindText},
				{Name: "pin_hash", Kind: KindText},
				{Name: "active", Kind: KindBoolean},
				{Name: "created_at", Kind: KindTimestamp},
				{Name: "updated_at", Kind: KindTimestamp},
			},
		},
		{
			Name: "venue_settings",
			Columns: []Column{
				{Name: "id", Kind: KindUUID},
				{Name: "key", Kind: KindText},
				{Name: "value", Kind: KindText},
				{Name: "created_at", Kind: KindTimestamp},
				{Name: "updated_at", Kind: KindTimestamp},
			},
		},
	}
}

// normalize coerces a scanned value into the shape the destination driver
// expects for the column kind. SQLite rows surface booleans as int64 and
// timestamps as RFC3339 strings depending on how they were written.
func normalize(kind ColumnKind, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch kind {
	case KindBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case int:
			return v != 0, nil
		case string:
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("bad boolean %q: %w", v, err)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("bad boolean type %T", value)
	case KindTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			return parseTimestamp(v)
		}
		return nil, fmt.Errorf("bad timestamp type %T", value)
	default:
		return value, nil
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", value)
}
