package library

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/lindenwick/folio/core/errors"
)

// queryGrammar is the participle grammar for library searches.
// Examples: `tolkien`, `title:hobbit`, `author:"le guin" lang:en`
//
type queryGrammar struct {
	Terms []*queryTerm `parser:"@@+"`
}

type queryTerm struct {
	Field  string  `parser:"@Field?"`
	Phrase *string `parser:"( @String"`
	Word   *string `parser:"| @Word )"`
}

// queryLexer tokenizes search input. A field prefix is a word followed
// immediately by a colon; the rule order makes it win over a bare word.
var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Field", Pattern: `[A-Za-z]+:`},
	{Name: "Word", Pattern: `[^\s"]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var queryParser = participle.MustBuild[queryGrammar](
	participle.Lexer(queryLexer),
	participle.Elide("Whitespace"),
)

// searchColumns maps a field prefix to the catalog column it constrains.
var searchColumns = map[string]string{
	"title":    "title",
	"author":   "author",
	"lang":     "language",
	"language": "language",
}

// Search returns the books matching query. The query language is a list of
// terms joined with an implicit AND: a bare word or quoted phrase matches
// title or author, and title:/author:/lang: prefixes constrain one column.
// An empty query returns the whole catalog.
func (s *Store) Search(query string) ([]Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List()
	}

	where, args, err := compileQuery(query)
	if err != nil {
		return nil, err
	}
	return s.many(`SELECT id, path, fingerprint, title, author, language, chapter_count, added_at
		FROM books WHERE `+where+` ORDER BY title, author`, args...)
}

// compileQuery parses the query and renders it as a SQL predicate with
// positional arguments.
func compileQuery(query string) (string, []any, error) {
	parsed, err := queryParser.ParseString("", query)
	if err != nil {
		return "", nil, errors.NewConfig("query", query, "invalid search query: "+err.Error())
	}

	var clauses []string
	var args []any
	for _, t := range parsed.Terms {
		value := t.value()
		if value == "" {
			continue
		}
		pattern := "%" + value + "%"

		if t.Field == "" {
			clauses = append(clauses, "(title LIKE ? OR author LIKE ?)")
			args = append(args, pattern, pattern)
			continue
		}

		field := strings.ToLower(strings.TrimSuffix(t.Field, ":"))
		column, ok := searchColumns[field]
		if !ok {
			return "", nil, errors.NewConfig("query", query, "unknown search field: "+field)
		}
		clauses = append(clauses, column+" LIKE ?")
		args = append(args, pattern)
	}
	if len(clauses) == 0 {
		return "", nil, errors.NewConfig("query", query, "query has no usable terms")
	}
	return strings.Join(clauses, " AND "), args, nil
}

// value returns the term's text with phrase quotes stripped.
func (t *queryTerm) value() string {
	if t.Phrase != nil {
		return strings.Trim(*t.Phrase, `"`)
	}
	if t.Word != nil {
		return *t.Word
	}
	return ""
}
