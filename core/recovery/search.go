package recovery

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/FocuswithJustin/walscope/core/encoding"
	"github.com/FocuswithJustin/walscope/core/errors"
	"github.com/FocuswithJustin/walscope/core/record"
	"github.com/FocuswithJustin/walscope/core/wal"
)

// MaxHitValue is the longest matched value reported in a Hit.
const MaxHitValue = 500

// Mode selects how a search term is compared with a value.
type Mode uint8

const (
	// Contains matches a case-insensitive substring.
	Contains Mode = iota
	// ContainsCase matches a case-sensitive substring.
	ContainsCase
	// Exact matches the whole value, case-sensitively.
	Exact
	// StartsWith matches a case-insensitive prefix.
	StartsWith
	// EndsWith matches a case-insensitive suffix.
	EndsWith
	// Regex matches a regular expression anywhere in the value.
	Regex
)

var modeNames = []struct {
	mode    Mode
	short   string
	aliases []string
}{
	{Contains, "ci", []string{"case-insensitive", "contains"}},
	{ContainsCase, "cs", []string{"case-sensitive"}},
	{Exact, "exact", []string{"exact-match"}},
	{StartsWith, "starts", []string{"starts-with", "prefix"}},
	{EndsWith, "ends", []string{"ends-with", "suffix"}},
	{Regex, "regex", []string{"regexp", "re"}},
}

func (m Mode) String() string {
	for _, n := range modeNames {
		if n.mode == m {
			return n.short
		}
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode accepts a short mode name (ci, cs, exact, starts, ends, regex)
// or one of its long forms.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, n := range modeNames {
		if s == n.short {
			return n.mode, nil
		}
		for _, a := range n.aliases {
			if s == a {
				return n.mode, nil
			}
		}
	}
	return 0, errors.NewUnsupported("search mode", fmt.Sprintf("unknown mode %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Query is a search request. Limit <= 0 means no limit.
type Query struct {
	Term  string
	Mode  Mode
	Limit int
}

// Hit is one matching value together with its whole row.
type Hit struct {
	Table    string       `json:"table"`
	Column   string       `json:"column"`
	RowID    int64        `json:"rowid"`
	Value    string       `json:"value"`
	Type     string       `json:"type"`
	Source   string       `json:"source"`
	Frame    int          `json:"frame_idx"`
	Page     uint32       `json:"page_num"`
	Category wal.Category `json:"category,omitempty"`
	Row      Fields       `json:"row_data"`
}

// Matcher compiles the query into a predicate over display strings.
func (q Query) Matcher() (func(string) bool, error) {
	term := q.Term
	lower := strings.ToLower(term)
	switch q.Mode {
	case Contains:
		return func(s string) bool { return strings.Contains(strings.ToLower(s), lower) }, nil
	case ContainsCase:
		return func(s string) bool { return strings.Contains(s, term) }, nil
	case Exact:
		return func(s string) bool { return s == term }, nil
	case StartsWith:
		return func(s string) bool { return strings.HasPrefix(strings.ToLower(s), lower) }, nil
	case EndsWith:
		return func(s string) bool { return strings.HasSuffix(strings.ToLower(s), lower) }, nil
	case Regex:
		rx, err := regexp.Compile(term)
		if err != nil {
			return nil, errors.NewValidation("term", fmt.Sprintf("invalid regular expression: %v", err))
		}
		return rx.MatchString, nil
	default:
		return nil, errors.NewUnsupported("search mode", q.Mode.String())
	}
}

func typeName(v record.Value) string {
	switch v.Kind {
	case record.KindInteger:
		return "integer"
	case record.KindReal:
		return "real"
	default:
		return "text"
	}
}

// Search tests every non-NULL, non-BLOB value of every user-table leaf
// frame against q, in frame order. An empty term matches nothing. An
// invalid regular expression is reported before any frame is read.
func (e *Engine) Search(ctx context.Context, q Query) (iter.Seq[Hit], error) {
	match, err := q.Matcher()
	if err != nil {
		return nil, err
	}
	return func(yield func(Hit) bool) {
		if q.Term == "" {
			return
		}
		found := 0
		for _, f := range e.frames() {
			if ctx.Err() != nil {
				return
			}
			lp, ok := e.leaf(f)
			if !ok || isSchemaPage(lp) {
				continue
			}
			for _, c := range lp.cells {
				vals := resolve(c, lp.pk)
				var row Fields
				for i, v := range vals {
					if v.Kind == record.KindNull || v.Kind == record.KindBlob {
						continue
					}
					s := v.String()
					if !match(s) {
						continue
					}
					if row == nil {
						row = fields(c, lp.cols, lp.pk)
					}
					hit := Hit{
						Table:    lp.table,
						Column:   columnName(lp.cols, i),
						RowID:    c.RowID,
						Value:    encoding.Truncate(s, MaxHitValue),
						Type:     typeName(v),
						Source:   sourceLabel(f.Category),
						Frame:    f.Index,
						Page:     f.PageNum,
						Category: f.Category,
						Row:      row,
					}
					if !yield(hit) {
						return
					}
					found++
					if q.Limit > 0 && found >= q.Limit {
						return
					}
				}
			}
		}
	}, nil
}
