package registry

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"vsoportal/internal/models"
)

// PageSize is the number of clients on one page of the client overview.
const PageSize = 10

// Query selects a page of the client overview.
type Query struct {
	Term string
	Sort string
	Desc bool
	Page int
}

// Page is one page of search results.
type Page struct {
	Clients    []models.Client `json:"clients"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// sortColumns maps the overview's sort keys to ORDER BY terms.
var sortColumns = map[string][]string{
	"naam":             {"LOWER(achternaam)", "LOWER(voornaam)"},
	"achternaam":       {"LOWER(achternaam)", "LOWER(voornaam)"},
	"voornaam":         {"LOWER(voornaam)"},
	"werkgever":        {"LOWER(werkgever_naam)"},
	"referentienummer": {"LOWER(referentienummer)"},
	"email":            {"LOWER(email)"},
	"created_at":       {"created_at"},
}

// searchColumns are matched case-insensitively against the term.
var searchColumns = []string{"voornaam", "achternaam", "referentienummer", "email", "werkgever_naam"}

// DefaultSort orders the overview by last name.
const DefaultSort = "naam"

// IsSortKey reports whether key is accepted by Search.
func IsSortKey(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

func (q Query) normalized() Query {
	q.Term = strings.TrimSpace(q.Term)
	q.Sort = strings.ToLower(strings.TrimSpace(q.Sort))
	if !IsSortKey(q.Sort) {
		q.Sort = DefaultSort
	}
	if q.Page < 1 {
		q.Page = 1
	}
	return q
}

func (q Query) filter(b sq.SelectBuilder) sq.SelectBuilder {
	if q.Term == "" {
		return b
	}
	pattern := "%" + escapeLike(strings.ToLower(q.Term)) + "%"
	or := make(sq.Or, 0, len(searchColumns))
	for _, col := range searchColumns {
		or = append(or, sq.Expr("LOWER("+col+") LIKE ? ESCAPE '!'", pattern))
	}
	return b.Where(or)
}

func (q Query) order(b sq.SelectBuilder) sq.SelectBuilder {
	dir := " ASC"
	if q.Desc {
		dir = " DESC"
	}
	terms := make([]string, 0, 3)
	for _, col := range sortColumns[q.Sort] {
		terms = append(terms, col+dir)
	}
	// stable paging when the sort key ties
	terms = append(terms, "id ASC")
	return b.OrderBy(terms...)
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
