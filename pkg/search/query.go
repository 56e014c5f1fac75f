package search

import (
	"errors"
	"strings"

	"github.com/yourusername/open-ill-broker/pkg/provider"
	"github.com/yourusername/open-ill-broker/pkg/z3950"
)

// ErrEmptyQuery is returned when every query field is blank.
var ErrEmptyQuery = errors.New("search query is empty")

// Query is a fielded bibliographic search. Non-empty fields are ANDed.
type Query struct {
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	ISBN    string `json:"isbn,omitempty"`
	ISSN    string `json:"issn,omitempty"`
	Subject string `json:"subject,omitempty"`
	Keyword string `json:"keyword,omitempty"`
}

func (q Query) normalize() Query {
	q.Title = strings.TrimSpace(q.Title)
	q.Author = strings.TrimSpace(q.Author)
	q.ISBN = provider.CleanISBN(q.ISBN)
	q.ISSN = strings.TrimSpace(q.ISSN)
	q.Subject = strings.TrimSpace(q.Subject)
	q.Keyword = strings.TrimSpace(q.Keyword)
	return q
}

func (q Query) IsEmpty() bool {
	n := q.normalize()
	return n.Title == "" && n.Author == "" && n.ISBN == "" && n.ISSN == "" && n.Subject == "" && n.Keyword == ""
}

type fieldTerm struct {
	index string // CQL index
	use   int    // Bib-1 use attribute
	term  string
}

func (q Query) terms() []fieldTerm {
	var out []fieldTerm
	add := func(index string, use int, term string) {
		if term != "" {
			out = append(out, fieldTerm{index: index, use: use, term: term})
		}
	}
	add("dc.title", z3950.UseAttributeTitle, q.Title)
	add("dc.creator", z3950.UseAttributeAuthor, q.Author)
	add("bath.isbn", z3950.UseAttributeISBN, q.ISBN)
	add("bath.issn", z3950.UseAttributeISSN, q.ISSN)
	add("dc.subject", z3950.UseAttributeSubject, q.Subject)
	add("cql.serverChoice", z3950.UseAttributeAny, q.Keyword)
	return out
}

// CQL renders the query for an SRU searchRetrieve request.
func (q Query) CQL() string {
	var parts []string
	for _, t := range q.terms() {
		parts = append(parts, t.index+`="`+strings.ReplaceAll(t.term, `"`, `\"`)+`"`)
	}
	return strings.Join(parts, " and ")
}

// Structured renders the query as a Z39.50 type-1 RPN tree.
func (q Query) Structured() z3950.StructuredQuery {
	var clauses []z3950.QueryClause
	for _, t := range q.terms() {
		clauses = append(clauses, z3950.QueryClause{Attribute: t.use, Term: t.term})
	}
	return z3950.StructuredQuery{Root: z3950.And(clauses...)}
}
