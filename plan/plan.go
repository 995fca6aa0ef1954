// Package plan expands a query descriptor against the relation graph into
// an ordered, deterministic fetch plan: a root step plus any split steps a
// backend executes sequentially, stitching child rows back by key. Plans
// are immutable values and safe to share and cache.
package plan

import (
	"strings"

	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// JoinKind is the join semantics of an eager-loaded edge.
type JoinKind uint8

// Join kinds.
const (
	LeftJoin JoinKind = iota
	InnerJoin
)

// String returns "left" or "inner".
func (k JoinKind) String() string {
	if k == InnerJoin {
		return "inner"
	}
	return "left"
}

// A Column is one projected result column of a fetch step. Its Label is the
// unique result-set name the executor must expose for the row value.
type Column struct {
	TableAlias string
	Name       string // storage column name
	Attr       string // attribute name on the owning record type
	Label      string // unique result label: <TableAlias>__<Name>
}

// A Join is one join edge of a fetch step, attaching a table to an earlier
// table of the same step.
type Join struct {
	Kind       JoinKind
	Table      string
	TableAlias string
	FromAlias  string // alias of the already-attached table
	FromColumn string // column on FromAlias
	ToColumn   string // column on TableAlias
}

// A Filter is a predicate evaluated against one table of a fetch step.
// Type carries the record type for attribute-to-column resolution and
// operand encoding.
type Filter struct {
	TableAlias string
	Type       *schema.RecordType
	Pred       query.P
}

// An OrderSpec is one ordering term of a fetch step.
type OrderSpec struct {
	TableAlias string
	Type       *schema.RecordType
	Expr       query.Expr
	Dir        query.Direction
}

// A GroupSpec is one grouping term of a fetch step.
type GroupSpec struct {
	TableAlias string
	Type       *schema.RecordType
	Expr       query.Expr
}

// A Stitch describes how a split step's rows are matched back onto the rows
// of an earlier step.
type Stitch struct {
	ParentStep int                // index of the step producing the parent rows
	ParentType *schema.RecordType // type of the parent records
	ParentAttr string             // attribute on parent records whose values key this step
	// FilterAlias/FilterColumn locate the column constrained to the parent
	// key set when the step executes.
	FilterAlias  string
	FilterColumn string
	ChildLabel   string   // result label carrying the matching value
	Alias        string   // relation alias the rows attach under
	ToMany       bool     // attach as a collection
	PerParent    bool     // execute once per parent key (nested limit/offset)
	Path         []string // include path from the root

	// Junction details for split BelongsToMany steps.
	ThroughAlias       string
	ThroughType        *schema.RecordType
	ThroughSourceLabel string
	ThroughTargetLabel string
	ThroughLift        []Column
}

// An Attach describes one join-loaded include of a step: which table alias
// holds the related row, how it hangs off its parent, and any junction
// columns lifted into the through side channel.
type Attach struct {
	Alias            string // relation alias on the parent record
	Path             []string
	Type             *schema.RecordType
	TableAlias       string
	ParentTableAlias string
	ToMany           bool
	// ThroughAlias is the junction's table alias for BelongsToMany, "" otherwise.
	ThroughAlias string
	ThroughType  *schema.RecordType
	// ThroughSourceLabel/ThroughTargetLabel carry the junction pair columns.
	ThroughSourceLabel string
	ThroughTargetLabel string
	// ThroughLift are extra junction columns lifted into the side channel,
	// never merged into either record's attributes.
	ThroughLift []Column
	Children    []*Attach
}

// A FetchStep is one physical fetch of a plan.
type FetchStep struct {
	Index      int
	Type       *schema.RecordType
	Table      string
	TableAlias string
	Columns    []Column
	Joins      []Join
	Filters    []Filter
	Order      []OrderSpec
	Group      []GroupSpec
	Limit      *int
	Offset     *int
	Attaches   []*Attach
	Stitch     *Stitch // nil for the root step
}

// Label returns the result label of the given table alias and column.
func Label(tableAlias, column string) string {
	return tableAlias + "__" + column
}

// ColumnLabel returns the label of the step's own column for the given
// attribute, or "" if the attribute is not projected.
func (s *FetchStep) ColumnLabel(attr string) string {
	for _, c := range s.Columns {
		if c.TableAlias == s.TableAlias && c.Attr == attr {
			return c.Label
		}
	}
	return ""
}

// A FetchPlan is the ordered sequence of fetch steps derived from one
// (root, descriptor, graph) input. Step 0 fetches the root; later steps
// depend on keys produced by earlier ones and execute sequentially.
type FetchPlan struct {
	Root  string
	Steps []*FetchStep
}

// String returns a compact, canonical rendering of the plan, used in tests
// and error messages.
func (p *FetchPlan) String() string {
	var sb strings.Builder
	sb.WriteString("plan " + p.Root)
	for _, s := range p.Steps {
		sb.WriteString("\n  step " + s.TableAlias + " (" + s.Type.Name() + ")")
		for _, j := range s.Joins {
			sb.WriteString(" " + j.Kind.String() + "-join " + j.TableAlias)
		}
		if s.Stitch != nil {
			sb.WriteString(" stitch " + strings.Join(s.Stitch.Path, "."))
		}
	}
	return sb.String()
}
