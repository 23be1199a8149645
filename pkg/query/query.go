package query

import (
	"strings"
	"time"
)

// Filter is one predicate of a query.
type Filter interface {
	Match(r *Record) bool
}

// Query is the conjunction of its filters. The empty query matches every
// image.
type Query struct {
	Filters []Filter
}

type tagFilter struct{ substr string }

func (f tagFilter) Match(r *Record) bool {
	for tag := range r.Tags {
		if strings.Contains(tag, f.substr) {
			return true
		}
	}
	return false
}

type setFilter struct {
	value string
	set   func(r *Record) map[string]struct{}
}

func (f setFilter) Match(r *Record) bool {
	_, ok := f.set(r)[f.value]
	return ok
}

type hasCSVFilter struct{}

func (hasCSVFilter) Match(r *Record) bool {
	return r.HasCSV
}

type pathFilter struct{ substr string }

func (f pathFilter) Match(r *Record) bool {
	return strings.Contains(r.RelPath, f.substr)
}

// dateFilter matches from <= created_at < to. A zero bound is open.
type dateFilter struct {
	from  time.Time
	to    time.Time
	never bool
}

func (f dateFilter) Match(r *Record) bool {
	if f.never {
		return false
	}
	if !f.from.IsZero() && r.CreatedAt.Before(f.from) {
		return false
	}
	if !f.to.IsZero() && !r.CreatedAt.Before(f.to) {
		return false
	}
	return true
}

func categories(r *Record) map[string]struct{} { return r.Categories }
func users(r *Record) map[string]struct{}      { return r.Users }
func labels(r *Record) map[string]struct{}     { return r.Labels }

// Parse splits text on whitespace and turns every token into a filter:
//
//	#<substr>            active tag containing substr
//	cat:<name>           active tag with exactly that category
//	user:<name>          active annotation by that user
//	label:<label>        quality vote with that label
//	has:csv              at least one CSV attachment
//	date:<D>             modified on day D
//	date:<D1>..<D2>      modified in [D1, D2]; either side may be empty
//	date:>=<D>, date>=<D>
//	date:<=<D>, date<=<D>
//	anything else        substring of the relative path
//
// Matching is case-insensitive. Date bounds without a time of day cover
// the whole day; unparseable dates match nothing.
func Parse(text string, loc *time.Location) *Query {
	if loc == nil {
		loc = time.Local
	}

	q := &Query{}
	for _, token := range strings.Fields(text) {
		q.Filters = append(q.Filters, parseToken(token, loc))
	}
	return q
}

func parseToken(raw string, loc *time.Location) Filter {
	token := Fold(raw)

	switch {
	case strings.HasPrefix(token, "#") && len(token) > 1:
		return tagFilter{substr: token[1:]}
	case strings.HasPrefix(token, "cat:"):
		return setFilter{value: token[4:], set: categories}
	case strings.HasPrefix(token, "user:"):
		return setFilter{value: token[5:], set: users}
	case strings.HasPrefix(token, "label:"):
		return setFilter{value: token[6:], set: labels}
	case token == "has:csv":
		return hasCSVFilter{}
	case strings.HasPrefix(token, "date:"):
		return parseDate(strings.ToUpper(raw[5:]), loc)
	case strings.HasPrefix(token, "date>="), strings.HasPrefix(token, "date<="):
		return parseDate(strings.ToUpper(raw[4:]), loc)
	default:
		return pathFilter{substr: token}
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseTime reads an ISO date or date-time. The second result reports a
// date without time of day.
func parseTime(s string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true, nil
	}

	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, err
}

func parseDate(expr string, loc *time.Location) Filter {
	never := dateFilter{never: true}

	switch {
	case strings.HasPrefix(expr, ">="):
		from, _, err := parseTime(expr[2:], loc)
		if err != nil {
			return never
		}
		return dateFilter{from: from}

	case strings.HasPrefix(expr, "<="):
		to, err := upperBound(expr[2:], loc)
		if err != nil {
			return never
		}
		return dateFilter{to: to}

	case strings.Contains(expr, ".."):
		lower, upper, _ := strings.Cut(expr, "..")
		if lower == "" && upper == "" {
			return never
		}

		f := dateFilter{}
		if lower != "" {
			from, _, err := parseTime(lower, loc)
			if err != nil {
				return never
			}
			f.from = from
		}
		if upper != "" {
			to, err := upperBound(upper, loc)
			if err != nil {
				return never
			}
			f.to = to
		}
		return f

	default:
		day, _, err := parseTime(expr, loc)
		if err != nil {
			return never
		}
		return dateFilter{from: day, to: day.AddDate(0, 0, 1)}
	}
}

// upperBound turns an inclusive day into the exclusive start of the next
// day. Date-times are used as given.
func upperBound(s string, loc *time.Location) (time.Time, error) {
	t, dateOnly, err := parseTime(s, loc)
	if err != nil {
		return time.Time{}, err
	}
	if dateOnly {
		return t.AddDate(0, 0, 1), nil
	}
	return t, nil
}

func (q *Query) Match(r *Record) bool {
	for _, f := range q.Filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// Filter returns the ids of all matching images in ascending order.
func (q *Query) Filter(idx *Index) []uint {
	matches := []uint{}
	for _, id := range idx.IDs() {
		if q.Match(idx.records[id]) {
			matches = append(matches, id)
		}
	}
	return matches
}

// Evaluate parses text and runs it against idx.
func Evaluate(text string, idx *Index) []uint {
	return Parse(text, idx.Location()).Filter(idx)
}
