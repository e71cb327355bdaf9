// Package query builds store queries and gates their execution through
// admission control.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/store"
)

// Kind tells queries issued by the service itself from queries issued on
// behalf of other processes.
type Kind int

const (
	Inner Kind = iota
	External
)

func (k Kind) String() string {
	if k == Inner {
		return "inner"
	}
	return "external"
}

// Caller identifies the process a query runs for.
type Caller struct {
	PID     uint32
	Process string
}

// Executor runs the file scan of a query. *store.Store implements it.
type Executor interface {
	Query(ctx context.Context, arg core.QueryArgument, q *cond.DocQuery, opts store.QueryOptions) (*core.ResultSet, error)
}

// Query is one request against the store.
type Query struct {
	Argument core.QueryArgument
	// Cond accumulates every condition added with Where.
	Cond    cond.Cond
	OrderBy core.OrderColumn
	Order   core.SortOrder
	Limit   int

	Kind   Kind
	Caller Caller
	// FrequencyCheck enables the per-process rate check.
	FrequencyCheck bool
}

// New returns a descending sequence query over the given domain and names.
func New(domain string, names ...string) *Query {
	return &Query{Argument: core.QueryArgument{Domain: domain, Names: names}}
}

// Where adds conditions to the query.
func (q *Query) Where(conds ...cond.Cond) *Query {
	q.Cond = q.Cond.And(conds...)
	return q
}

// Range restricts the query to sequences in [begin, end).
func (q *Query) Range(begin, end int64) *Query {
	q.Argument.BeginSeq = begin
	q.Argument.EndSeq = end
	return q
}

// Conditions returns the number of leaf conditions.
func (q *Query) Conditions() int {
	return len(q.Cond.Leaves())
}

// Execute runs the query without admission control.
func (q *Query) Execute(ctx context.Context, ex Executor) (*core.ResultSet, error) {
	var dq *cond.DocQuery
	if !q.Cond.IsEmpty() {
		dq = q.Cond.Flatten()
	}
	return ex.Query(ctx, q.Argument, dq, store.QueryOptions{
		Limit:   q.Limit,
		OrderBy: q.OrderBy,
		Order:   q.Order,
	})
}

// String renders the query for the running-status log.
func (q *Query) String() string {
	var parts []string
	if q.Argument.Domain != "" {
		parts = append(parts, fmt.Sprintf("%s = %q", cond.ColDomain, q.Argument.Domain))
	}
	if len(q.Argument.Names) > 0 {
		parts = append(parts, fmt.Sprintf("%s IN (%s)", cond.ColName, strings.Join(q.Argument.Names, ",")))
	}
	if q.Argument.Category != core.CategoryUnknown {
		parts = append(parts, "category = "+q.Argument.Category.String())
	}
	if q.Argument.BeginSeq > 0 {
		parts = append(parts, fmt.Sprintf("%s >= %d", cond.ColSeq, q.Argument.BeginSeq))
	}
	if q.Argument.EndSeq > 0 {
		parts = append(parts, fmt.Sprintf("%s < %d", cond.ColSeq, q.Argument.EndSeq))
	}
	if !q.Cond.IsEmpty() {
		parts = append(parts, q.Cond.String())
	}
	where := "*"
	if len(parts) > 0 {
		where = strings.Join(parts, " AND ")
	}
	col := cond.ColSeq
	if q.OrderBy == core.OrderByTime {
		col = cond.ColTime
	}
	dir := "DESC"
	if q.Order == core.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf("%s ORDER BY %s %s LIMIT %d", where, col, dir, q.Limit)
}
