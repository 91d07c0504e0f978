package sql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/acronis/perfkit/pooldb"
)

type column struct {
	name     string
	dataType string
	primary  bool
	auto     bool
}

// scanColumns reads a catalog query returning column_name, data_type, is_pk and is_auto
func scanColumns(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) ([]column, error) {
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		row := make(map[string]interface{})
		if err = rows.MapScan(row); err != nil {
			return nil, err
		}

		cols = append(cols, column{
			name:     asString(row["column_name"]),
			dataType: asString(row["data_type"]),
			primary:  asBool(row["is_pk"]),
			auto:     asBool(row["is_auto"]),
		})
	}

	return cols, rows.Err()
}

func metadataOf(cols []column) *pooldb.Metadata {
	meta := &pooldb.Metadata{}
	for _, c := range cols {
		meta.Attributes = append(meta.Attributes, c.name)
		if c.primary {
			meta.PrimaryKey = append(meta.PrimaryKey, c.name)
		}
		if c.auto && meta.AutoIncrementKey == "" {
			meta.AutoIncrementKey = c.name
		}
		if strings.Contains(strings.ToUpper(c.dataType), "INT") {
			meta.IntTypeAttributes = append(meta.IntTypeAttributes, c.name)
		}
	}
	return meta
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func asBool(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case int32:
		return x != 0
	case int:
		return x != 0
	case uint8:
		return x != 0
	case []byte, string:
		b, err := strconv.ParseBool(asString(x))
		return err == nil && b
	default:
		return false
	}
}
