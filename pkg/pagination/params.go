package pagination

import (
	"net/url"
	"strconv"
)

// Query is the filter pair sent with every request of a run.
type Query struct {
	// Filter is the primary query expression.
	Filter string

	// Having is the secondary (having) expression. Empty omits it.
	Having string
}

// ParamsFunc builds the request parameters for one page.
type ParamsFunc func(q Query, offset, limit int) url.Values

// DefaultParams sends limit, offset, query and havingQuery.
func DefaultParams(q Query, offset, limit int) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	if q.Filter != "" {
		params.Set("query", q.Filter)
	}
	if q.Having != "" {
		params.Set("havingQuery", q.Having)
	}
	return params
}
