package testfixture

import (
	"context"

	"github.com/FocuswithJustin/walscope/core/schema"
)

// MasterEntries returns the configured entries, or Err.
func (c *Catalog) MasterEntries(ctx context.Context) ([]schema.MasterEntry, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Entries, nil
}

// TableInfo returns the configured columns of table.
func (c *Catalog) TableInfo(ctx context.Context, table string) ([]schema.Column, error) {
	return c.Info[table], nil
}

// Columns builds table_info rows from "name TYPE" pairs; pk marks the
// primary key column by name.
func Columns(pk string, defs ...[2]string) []schema.Column {
	cols := make([]schema.Column, len(defs))
	for i, d := range defs {
		cols[i] = schema.Column{CID: i, Name: d[0], Type: d[1]}
		if d[0] == pk {
			cols[i].PK = 1
		}
	}
	return cols
}
