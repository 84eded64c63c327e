package schema

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// createGrammar is the participle grammar for CREATE TABLE statements.
// Column definitions are kept as flat token runs with nested parentheses
// grouped; their meaning is worked out afterwards.
type createGrammar struct {
	Temporary   bool          `parser:"\"CREATE\" @(\"TEMP\" | \"TEMPORARY\")? \"TABLE\""`
	IfNotExists bool          `parser:"@(\"IF\" \"NOT\" \"EXISTS\")?"`
	Name        []string      `parser:"@(Ident | QuotedIdent | String) ( \".\" @(Ident | QuotedIdent | String) )?"`
	Definitions []*definition `parser:"\"(\" @@ ( \",\" @@ )* \")\""`
	Options     []string      `parser:"@(Ident | \",\")* \";\"?"`
}

type definition struct {
	Tokens []*fragment `parser:"@@+"`
}

type fragment struct {
	Group *group `parser:"  @@"`
	Ident string `parser:"| @Ident"`
	Other string `parser:"| @(QuotedIdent | String | Number | Punct)"`
}

type group struct {
	Items []*groupItem `parser:"\"(\" @@* \")\""`
}

type groupItem struct {
	Group *group `parser:"  @@"`
	Token string `parser:"| @(Ident | QuotedIdent | String | Number | Punct | \",\")"`
}

// createLexer defines the lexer for CREATE TABLE statements.
var createLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*(?s:.*?)\*/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "QuotedIdent", Pattern: `"(?:[^"]|"")*"|` + "`(?:[^`]|``)*`" + `|\[[^\]]*\]`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Number", Pattern: `(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_\x{80}-\x{10FFFF}][A-Za-z0-9_$\x{80}-\x{10FFFF}]*`},
	{Name: "Delim", Pattern: `[(),]`},
	{Name: "Punct", Pattern: `[^\s(),]`},
})

// createParser is the participle parser for CREATE TABLE statements.
var createParser = participle.MustBuild[createGrammar](
	participle.Lexer(createLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.CaseInsensitive("Ident"),
)

// words after which a column's declared type ends
var constraintWords = map[string]bool{
	"CONSTRAINT": true, "PRIMARY": true, "NOT": true, "NULL": true,
	"UNIQUE": true, "CHECK": true, "DEFAULT": true, "COLLATE": true,
	"REFERENCES": true, "GENERATED": true, "AS": true,
}

// words that open a table constraint instead of a column
var tableConstraintWords = map[string]bool{
	"PRIMARY": true, "FOREIGN": true, "UNIQUE": true, "CHECK": true, "CONSTRAINT": true,
}

// ParseCreateTable extracts the columns of a CREATE TABLE statement.
func ParseCreateTable(sql string) (*Table, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, fmt.Errorf("empty CREATE TABLE statement")
	}

	parsed, err := createParser.ParseString("", sql)
	if err != nil {
		return nil, fmt.Errorf("invalid CREATE TABLE statement: %w", err)
	}

	t := &Table{
		Name:    Unquote(parsed.Name[len(parsed.Name)-1]),
		PKIndex: -1,
	}
	if len(parsed.Name) > 1 {
		t.Schema = Unquote(parsed.Name[0])
	}
	for i, opt := range parsed.Options {
		if strings.EqualFold(opt, "WITHOUT") && i+1 < len(parsed.Options) && strings.EqualFold(parsed.Options[i+1], "ROWID") {
			t.WithoutRowID = true
		}
	}

	var tablePK []string
	for _, def := range parsed.Definitions {
		first := def.Tokens[0]
		if first.Ident != "" && tableConstraintWords[strings.ToUpper(first.Ident)] {
			if cols := primaryKeyColumns(def.Tokens); cols != nil {
				tablePK = cols
			}
			continue
		}
		col, ok := columnFromTokens(def.Tokens)
		if !ok {
			continue
		}
		col.CID = len(t.Columns)
		t.Columns = append(t.Columns, col)
	}

	if tablePK != nil {
		for pos, name := range tablePK {
			for i := range t.Columns {
				if strings.EqualFold(t.Columns[i].Name, name) {
					t.Columns[i].PK = pos + 1
				}
			}
		}
	}
	if !t.WithoutRowID {
		t.PKIndex = RowIDAlias(t.Columns)
	}
	return t, nil
}

func (f *fragment) word() string {
	switch {
	case f.Ident != "":
		return f.Ident
	case f.Other != "":
		return f.Other
	default:
		return f.Group.String()
	}
}

func (f *fragment) is(keyword string) bool {
	return f.Ident != "" && strings.EqualFold(f.Ident, keyword)
}

// String renders the group the way it appears in a declared type, e.g.
// "(10,2)".
func (g *group) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, it := range g.Items {
		if it.Group != nil {
			sb.WriteString(it.Group.String())
			continue
		}
		if i > 0 && it.Token != "," && g.Items[i-1].Token != "," && g.Items[i-1].Group == nil {
			sb.WriteByte(' ')
		}
		sb.WriteString(it.Token)
	}
	sb.WriteByte(')')
	return sb.String()
}

func columnFromTokens(tokens []*fragment) (Column, bool) {
	if tokens[0].Group != nil {
		return Column{}, false
	}
	col := Column{Name: Unquote(tokens[0].word())}
	if col.Name == "" {
		return Column{}, false
	}

	i := 1
	var typ []string
	for ; i < len(tokens); i++ {
		tk := tokens[i]
		if tk.Ident != "" && constraintWords[strings.ToUpper(tk.Ident)] {
			break
		}
		if tk.Group != nil && len(typ) > 0 {
			typ[len(typ)-1] += tk.Group.String()
			continue
		}
		typ = append(typ, tk.word())
	}
	col.Type = strings.Join(typ, " ")

	for ; i < len(tokens); i++ {
		tk := tokens[i]
		switch {
		case tk.is("PRIMARY") && i+1 < len(tokens) && tokens[i+1].is("KEY"):
			col.PK = 1
		case tk.is("NOT") && i+1 < len(tokens) && tokens[i+1].is("NULL"):
			col.NotNull = true
		case tk.is("DEFAULT") && i+1 < len(tokens):
			d := tokens[i+1].word()
			if d == "-" || d == "+" {
				if i+2 < len(tokens) {
					d += tokens[i+2].word()
				}
			}
			col.Default = &d
		}
	}
	return col, true
}

// primaryKeyColumns returns the column names of a PRIMARY KEY (...) table
// constraint, or nil when tokens hold a different constraint.
func primaryKeyColumns(tokens []*fragment) []string {
	for i := 0; i+2 < len(tokens); i++ {
		if !tokens[i].is("PRIMARY") || !tokens[i+1].is("KEY") || tokens[i+2].Group == nil {
			continue
		}
		var cols []string
		expectName := true
		for _, it := range tokens[i+2].Group.Items {
			switch {
			case it.Token == ",":
				expectName = true
			case expectName && it.Group == nil:
				cols = append(cols, Unquote(it.Token))
				expectName = false
			}
		}
		return cols
	}
	return nil
}

// Unquote strips SQL identifier or string quoting: "x", `x`, [x] and 'x'.
func Unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	switch first, last := s[0], s[len(s)-1]; {
	case first == '"' && last == '"':
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	case first == '`' && last == '`':
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	case first == '\'' && last == '\'':
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	case first == '[' && last == ']':
		return s[1 : len(s)-1]
	}
	return s
}
