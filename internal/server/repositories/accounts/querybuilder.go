package accounts

import (
	"fmt"
	"sort"
	"strings"
)

// GroupMode selects how a set of data groups is matched.
type GroupMode int

const (
	// GroupAllOf requires every named group to be present on the account.
	GroupAllOf GroupMode = iota
	// GroupNoneOf requires every named group to be absent.
	GroupNoneOf
)

// QueryBuilder incrementally composes one query string and one named
// parameter map. The paged listing query and its matching count query are
// built through the same predicate code so they can never disagree about
// which rows match; only the listing query receives offset/limit.
type QueryBuilder struct {
	query  strings.Builder
	names  []string // first-bind order, which is also placeholder order
	params map[string]any
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{params: make(map[string]any)}
}

// Append adds a fragment, optionally binding named parameters given as
// alternating name/value pairs.
func (qb *QueryBuilder) Append(fragment string, pairs ...any) {
	qb.query.WriteString(fragment)
	for i := 0; i+1 < len(pairs); i += 2 {
		qb.bind(pairs[i].(string), pairs[i+1])
	}
}

func (qb *QueryBuilder) bind(name string, value any) {
	if _, ok := qb.params[name]; !ok {
		qb.names = append(qb.names, name)
	}
	qb.params[name] = value
}

// DataGroups emits one membership clause per group. Each element gets a
// uniquely numbered parameter (IN1…, NOTIN1…) so both modes can be used in
// the same query without collisions. Groups are sorted for a stable query
// shape.
//
// Accounts with no data groups store NULL, and `x = ANY(NULL)` is NULL
// rather than false, so the absence clause must accept NULL explicitly or
// group-less accounts would never match a NONE_OF search.
func (qb *QueryBuilder) DataGroups(groups []string, mode GroupMode) {
	sorted := append([]string(nil), groups...)
	sort.Strings(sorted)

	prefix := "IN"
	clause := " AND :%s = ANY(acct.data_groups)"
	if mode == GroupNoneOf {
		prefix = "NOTIN"
		clause = " AND (acct.data_groups IS NULL OR NOT (:%s = ANY(acct.data_groups)))"
	}
	for i, group := range sorted {
		name := fmt.Sprintf("%s%d", prefix, i+1)
		qb.Append(fmt.Sprintf(clause, name), name, group)
	}
}

// SubstudyIn restricts the query to accounts associated with any of the
// given sub-studies.
func (qb *QueryBuilder) SubstudyIn(substudyIDs []string) {
	if len(substudyIDs) == 0 {
		return
	}
	placeholders := make([]string, len(substudyIDs))
	for i, id := range substudyIDs {
		name := fmt.Sprintf("SS%d", i+1)
		placeholders[i] = ":" + name
		qb.bind(name, id)
	}
	qb.Append(" AND ss.substudy_id IN (" + strings.Join(placeholders, ", ") + ")")
}

// Params returns the named-parameter map.
func (qb *QueryBuilder) Params() map[string]any {
	return qb.params
}

// String returns the composed query with named placeholders.
func (qb *QueryBuilder) String() string {
	return qb.query.String()
}

// SQL renders the query into positional-placeholder form with the argument
// slice ordered by first binding.
func (qb *QueryBuilder) SQL() (string, []any) {
	query := qb.query.String()

	// Substitute longer names first so :IN1 cannot clobber :IN12.
	byLength := append([]string(nil), qb.names...)
	sort.Slice(byLength, func(i, j int) bool { return len(byLength[i]) > len(byLength[j]) })

	position := make(map[string]int, len(qb.names))
	args := make([]any, len(qb.names))
	for i, name := range qb.names {
		position[name] = i + 1
		args[i] = qb.params[name]
	}
	for _, name := range byLength {
		query = strings.ReplaceAll(query, ":"+name, fmt.Sprintf("$%d", position[name]))
	}
	return query, args
}
