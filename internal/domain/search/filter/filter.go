// Package filter holds the structured predicate attached to search requests.
// Conditions address document metadata: tag fields (node_type, tags) match
// exactly, numeric fields (created_at, updated_at as unix seconds) match by
// range. Tenant scoping is not expressed here; the storage layer injects it
// into every query.
package filter

import (
	"fmt"
	"io"
)

// MaxConditions bounds each condition group to keep backend queries sane.
const MaxConditions = 32

// Expression is a structured filter with must/should/must_not semantics.
type Expression struct {
	must    []Condition
	should  []Condition
	mustNot []Condition
}

// NewExpression validates and creates an Expression.
func NewExpression(must, should, mustNot []Condition) (Expression, error) {
	for name, group := range map[string][]Condition{
		"must": must, "should": should, "must_not": mustNot,
	} {
		if len(group) > MaxConditions {
			return Expression{}, fmt.Errorf("too many %s conditions (max %d)", name, MaxConditions)
		}
	}
	return Expression{must: must, should: should, mustNot: mustNot}, nil
}

// Must returns conditions that every result satisfies.
func (e Expression) Must() []Condition { return e.must }

// Should returns conditions of which results satisfy at least one.
func (e Expression) Should() []Condition { return e.should }

// MustNot returns conditions that no result satisfies.
func (e Expression) MustNot() []Condition { return e.mustNot }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool {
	return len(e.must) == 0 && len(e.should) == 0 && len(e.mustNot) == 0
}

// WriteDigest serializes the expression deterministically for cache keying.
// Condition order within a group is preserved, so the digest is stable for a
// given request.
func (e Expression) WriteDigest(w io.Writer) {
	writeGroup := func(name string, conds []Condition) {
		for _, c := range conds {
			if c.IsMatch() {
				fmt.Fprintf(w, "%s:%s={%s};", name, c.Field(), c.Match())
				continue
			}
			if r := c.Range(); r != nil {
				fmt.Fprintf(w, "%s:%s=[", name, c.Field())
				for _, b := range []*float64{r.GT(), r.GTE(), r.LT(), r.LTE()} {
					if b != nil {
						fmt.Fprintf(w, "%g,", *b)
					} else {
						fmt.Fprint(w, "_,")
					}
				}
				fmt.Fprint(w, "];")
			}
		}
	}
	writeGroup("must", e.must)
	writeGroup("should", e.should)
	writeGroup("must_not", e.mustNot)
}

// Condition is a single clause: either an exact tag match or a numeric range.
type Condition struct {
	field     string
	match     string
	rangeExpr *Range
}

// NewMatch creates an exact tag match condition.
func NewMatch(field, value string) (Condition, error) {
	if field == "" {
		return Condition{}, fmt.Errorf("filter field is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("match value is required for field %q", field)
	}
	return Condition{field: field, match: value}, nil
}

// NewRange creates a numeric range condition.
func NewRange(field string, r Range) (Condition, error) {
	if field == "" {
		return Condition{}, fmt.Errorf("filter field is required")
	}
	return Condition{field: field, rangeExpr: &r}, nil
}

// Field returns the metadata field name.
func (c Condition) Field() string { return c.field }

// Match returns the exact match value.
func (c Condition) Match() string { return c.match }

// Range returns the numeric range expression.
func (c Condition) Range() *Range { return c.rangeExpr }

// IsMatch reports whether this is a match condition.
func (c Condition) IsMatch() bool { return c.match != "" }

// IsRange reports whether this is a range condition.
func (c Condition) IsRange() bool { return c.rangeExpr != nil }

// Range is a numeric range with optional inclusive/exclusive bounds.
type Range struct {
	gt  *float64
	gte *float64
	lt  *float64
	lte *float64
}

// NewRangeBounds validates and creates a Range. At least one bound is
// required; gt/gte and lt/lte are mutually exclusive.
func NewRangeBounds(gt, gte, lt, lte *float64) (Range, error) {
	if gt == nil && gte == nil && lt == nil && lte == nil {
		return Range{}, fmt.Errorf("at least one range bound is required")
	}
	if gt != nil && gte != nil {
		return Range{}, fmt.Errorf("cannot specify both gt and gte")
	}
	if lt != nil && lte != nil {
		return Range{}, fmt.Errorf("cannot specify both lt and lte")
	}
	return Range{gt: gt, gte: gte, lt: lt, lte: lte}, nil
}

// GT returns the exclusive lower bound.
func (r Range) GT() *float64 { return r.gt }

// GTE returns the inclusive lower bound.
func (r Range) GTE() *float64 { return r.gte }

// LT returns the exclusive upper bound.
func (r Range) LT() *float64 { return r.lt }

// LTE returns the inclusive upper bound.
func (r Range) LTE() *float64 { return r.lte }
