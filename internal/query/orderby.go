package query

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/koustreak/featureserv/internal/errs"
)

// OrderTerm is one element of an orderByFields list.
type OrderTerm struct {
	Field string
	Desc  bool
}

type orderByAST struct {
	Terms []*orderTermAST `parser:"@@ ( ',' @@ )* ','?"`
}

type orderTermAST struct {
	Field     string `parser:"@( QuotedIdent | Ident )"`
	Direction string `parser:"@Ident?"`
}

var orderByParser = participle.MustBuild[orderByAST](
	participle.Lexer(lexer.MustSimple([]lexer.SimpleRule{
		{Name: "QuotedIdent", Pattern: `"(?:[^"]|"")+"`},
		{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_$]*`},
		{Name: "Punct", Pattern: `,`},
		{Name: "Whitespace", Pattern: `\s+`},
	})),
	participle.Elide("Whitespace"),
)

// ParseOrderBy parses "field [ASC|DESC], ..." into terms. Quoted
// identifiers are unquoted; a missing direction means ascending.
func ParseOrderBy(s string) ([]OrderTerm, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	ast, err := orderByParser.ParseString("orderByFields", s)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid orderByFields", err)
	}

	terms := make([]OrderTerm, 0, len(ast.Terms))
	for _, t := range ast.Terms {
		term := OrderTerm{Field: t.Field}
		if strings.HasPrefix(term.Field, `"`) {
			term.Field = strings.ReplaceAll(term.Field[1:len(term.Field)-1], `""`, `"`)
		}
		switch strings.ToUpper(t.Direction) {
		case "", "ASC":
		case "DESC":
			term.Desc = true
		default:
			return nil, errs.Newf(errs.ErrKindInvalidInput, "invalid sort direction %q for field %q", t.Direction, term.Field)
		}
		terms = append(terms, term)
	}
	return terms, nil
}
