package postgres

import (
	"fmt"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// query accumulates SQL text and positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

func (q *query) add(s string) {
	q.sql += s
}

// where appends " AND <col> <op> $N".
func (q *query) where(col, op string, v any) {
	q.args = append(q.args, v)
	q.sql += fmt.Sprintf(" AND %s %s $%d", col, op, len(q.args))
}

func (q *query) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col, ">=", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col, "<=", *opts.Until)
	}
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}
