package recovery

import (
	"context"
	"iter"

	"github.com/FocuswithJustin/walscope/core/encoding"
	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/sqlite"
)

// LiveSource is the read-only view of the live tables.
type LiveSource interface {
	Tables(ctx context.Context) ([]string, error)
	Scan(ctx context.Context, table string, fn func(sqlite.Row) error) error
}

// LiveSourceLabel is the Source of hits found in the live database.
const LiveSourceLabel = "DB"

var errStop = errors.New("stop")

// SearchLive applies q to every row of every live table, in table and rowid
// order. Hits carry Source "DB" and Frame -1. A table that cannot be read is
// skipped.
func SearchLive(ctx context.Context, src LiveSource, q Query) (iter.Seq[Hit], error) {
	match, err := q.Matcher()
	if err != nil {
		return nil, err
	}
	tables, err := src.Tables(ctx)
	if err != nil {
		return nil, err
	}
	return func(yield func(Hit) bool) {
		if q.Term == "" {
			return
		}
		found := 0
		for _, table := range tables {
			err := src.Scan(ctx, table, func(r sqlite.Row) error {
				var row Fields
				for i, v := range r.Values {
					if v.Kind == record.KindNull || v.Kind == record.KindBlob {
						continue
					}
					s := v.String()
					if !match(s) {
						continue
					}
					if row == nil {
						row = make(Fields, len(r.Values))
						for j, rv := range r.Values {
							row[j] = Field{Column: r.Columns[j], Value: FormatValue(rv)}
						}
					}
					hit := Hit{
						Table:  table,
						Column: r.Columns[i],
						RowID:  r.RowID,
						Value:  encoding.Truncate(s, MaxHitValue),
						Type:   typeName(v),
						Source: LiveSourceLabel,
						Frame:  -1,
						Row:    row,
					}
					if !yield(hit) {
						return errStop
					}
					found++
					if q.Limit > 0 && found >= q.Limit {
						return errStop
					}
				}
				return nil
			})
			if errors.Is(err, errStop) || ctx.Err() != nil {
				return
			}
		}
	}, nil
}
