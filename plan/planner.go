package plan

import (
	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// Plan expands the descriptor's include tree against the relation graph
// into a fetch plan. It fails fast, before any I/O: unknown associations,
// unknown attribute references and ambiguous table aliases are all surfaced
// here. The output is deterministic: the same (root, descriptor, graph)
// input always produces a structurally identical plan.
func Plan(root *schema.RecordType, d *query.Descriptor, g *graph.Graph) (*FetchPlan, error) {
	root.Freeze()
	pl := &planner{g: g, plan: &FetchPlan{Root: root.Name()}, toMany: make(map[*FetchStep]bool)}
	step := &FetchStep{
		Type:       root,
		Table:      root.Table(),
		TableAlias: inflect.Underscore(root.Name()),
	}
	pl.plan.Steps = append(pl.plan.Steps, step)
	if err := pl.applyDescriptor(step, step.TableAlias, root, d, true); err != nil {
		return nil, err
	}
	if err := pl.expand(step, step.TableAlias, root, d.Includes(), nil, &step.Attaches); err != nil {
		return nil, err
	}
	return pl.plan, nil
}

type planner struct {
	g      *graph.Graph
	plan   *FetchPlan
	toMany map[*FetchStep]bool // step already joins a to-many edge
}

// applyDescriptor projects columns and attaches filters, ordering, grouping
// and pagination of d onto one table of a step.
func (pl *planner) applyDescriptor(step *FetchStep, alias string, rt *schema.RecordType, d *query.Descriptor, rootTable bool) error {
	cols, err := typeColumns(rt, alias, d.Attrs())
	if err != nil {
		return err
	}
	step.Columns = append(step.Columns, cols...)
	if p := effectivePredicate(rt, d); p != nil {
		if err := validatePred(rt, p); err != nil {
			return err
		}
		step.Filters = append(step.Filters, Filter{TableAlias: alias, Type: rt, Pred: p})
	}
	for _, o := range d.Orders() {
		if err := validateExpr(rt, o.Expr); err != nil {
			return err
		}
		step.Order = append(step.Order, OrderSpec{TableAlias: alias, Type: rt, Expr: o.Expr, Dir: o.Dir})
	}
	if rootTable {
		for _, gexpr := range d.Groups() {
			if err := validateExpr(rt, gexpr); err != nil {
				return err
			}
			step.Group = append(step.Group, GroupSpec{TableAlias: alias, Type: rt, Expr: gexpr})
		}
		if n, ok := d.LimitValue(); ok {
			step.Limit = &n
		}
		if n, ok := d.OffsetValue(); ok {
			step.Offset = &n
		}
	}
	return nil
}

// expand walks one level of the include tree within (or splitting off from)
// the given step.
func (pl *planner) expand(step *FetchStep, parentAlias string, parent *schema.RecordType, includes []query.Include, path []string, attaches *[]*Attach) error {
	used := make(map[string]bool)
	for _, in := range includes {
		a, err := pl.resolve(parent, in)
		if err != nil {
			return err
		}
		alias := parentAlias + "_" + baseAlias(in, a)
		if used[alias] {
			return &AmbiguousAliasError{Type: parent.Name(), Alias: in.Key()}
		}
		used[alias] = true
		eff := query.Merge(a.Scope(), in.Nested)
		if split := pl.mustSplit(step, a, eff); split {
			if err := pl.splitStep(step, parentAlias, parent, a, in, eff, alias, append(path, in.Key())); err != nil {
				return err
			}
			continue
		}
		if a.ToMany() {
			pl.toMany[step] = true
		}
		if err := pl.joinInclude(step, parentAlias, parent, a, in, eff, alias, append(path, in.Key()), attaches); err != nil {
			return err
		}
	}
	return nil
}

// mustSplit reports whether an include must run as a separate fetch step:
// to-many edges with nested pagination, to-many edges under a paginated
// step, and to-many edges joining a step that already multiplies rows all
// corrupt limit semantics when merged into a single join.
func (pl *planner) mustSplit(step *FetchStep, a *graph.Association, eff *query.Descriptor) bool {
	if !a.ToMany() {
		return false
	}
	if _, ok := eff.LimitValue(); ok {
		return true
	}
	if _, ok := eff.OffsetValue(); ok {
		return true
	}
	if step.Limit != nil || step.Offset != nil {
		return true
	}
	return pl.toMany[step]
}

// joinInclude attaches an include to the same fetch step as its parent.
func (pl *planner) joinInclude(step *FetchStep, parentAlias string, parent *schema.RecordType, a *graph.Association, in query.Include, eff *query.Descriptor, alias string, path []string, attaches *[]*Attach) error {
	target := a.Target()
	kind := LeftJoin
	if required(in) {
		kind = InnerJoin
	}
	att := &Attach{
		Alias:            in.Key(),
		Path:             path,
		Type:             target,
		TableAlias:       alias,
		ParentTableAlias: parentAlias,
		ToMany:           a.ToMany(),
	}
	switch a.Kind() {
	case graph.BelongsTo:
		fkCol, err := columnOf(parent, a.ForeignKey())
		if err != nil {
			return err
		}
		refCol, err := columnOf(target, a.RefKey())
		if err != nil {
			return err
		}
		step.Joins = append(step.Joins, Join{
			Kind: kind, Table: target.Table(), TableAlias: alias,
			FromAlias: parentAlias, FromColumn: fkCol, ToColumn: refCol,
		})
	case graph.HasOne, graph.HasMany:
		refCol, err := columnOf(parent, a.RefKey())
		if err != nil {
			return err
		}
		fkCol, err := columnOf(target, a.ForeignKey())
		if err != nil {
			return err
		}
		step.Joins = append(step.Joins, Join{
			Kind: kind, Table: target.Table(), TableAlias: alias,
			FromAlias: parentAlias, FromColumn: refCol, ToColumn: fkCol,
		})
	case graph.BelongsToMany:
		th := a.Through()
		thAlias := alias + "_" + inflect.Underscore(th.Name())
		srcCol, err := columnOf(parent, parent.PKName())
		if err != nil {
			return err
		}
		srcFKCol, err := columnOf(th, a.SourceForeignKey())
		if err != nil {
			return err
		}
		tgtFKCol, err := columnOf(th, a.TargetForeignKey())
		if err != nil {
			return err
		}
		tgtCol, err := columnOf(target, target.PKName())
		if err != nil {
			return err
		}
		step.Joins = append(step.Joins,
			Join{Kind: kind, Table: th.Table(), TableAlias: thAlias,
				FromAlias: parentAlias, FromColumn: srcCol, ToColumn: srcFKCol},
			Join{Kind: kind, Table: target.Table(), TableAlias: alias,
				FromAlias: thAlias, FromColumn: tgtFKCol, ToColumn: tgtCol},
		)
		att.ThroughAlias = thAlias
		att.ThroughType = th
		att.ThroughSourceLabel = Label(thAlias, srcFKCol)
		att.ThroughTargetLabel = Label(thAlias, tgtFKCol)
		pair := []Column{
			{TableAlias: thAlias, Name: srcFKCol, Attr: a.SourceForeignKey(), Label: att.ThroughSourceLabel},
			{TableAlias: thAlias, Name: tgtFKCol, Attr: a.TargetForeignKey(), Label: att.ThroughTargetLabel},
		}
		step.Columns = append(step.Columns, pair...)
		att.ThroughLift = liftColumns(th, thAlias, a)
		step.Columns = append(step.Columns, att.ThroughLift...)
	}
	if err := pl.applyDescriptor(step, alias, target, eff, false); err != nil {
		return err
	}
	*attaches = append(*attaches, att)
	return pl.expand(step, alias, target, eff.Includes(), path, &att.Children)
}

// splitStep plans an include as its own fetch step, keyed by the parent
// step's resolved keys and stitched back after execution.
func (pl *planner) splitStep(parentStep *FetchStep, parentAlias string, parent *schema.RecordType, a *graph.Association, in query.Include, eff *query.Descriptor, alias string, path []string) error {
	target := a.Target()
	step := &FetchStep{
		Index:      len(pl.plan.Steps),
		Type:       target,
		Table:      target.Table(),
		TableAlias: alias,
	}
	_, hasLimit := eff.LimitValue()
	_, hasOffset := eff.OffsetValue()
	stitch := &Stitch{
		ParentStep: parentStep.Index,
		ParentType: parent,
		Alias:      in.Key(),
		ToMany:     true,
		PerParent:  hasLimit || hasOffset,
		Path:       path,
	}
	switch a.Kind() {
	case graph.HasMany:
		fkCol, err := columnOf(target, a.ForeignKey())
		if err != nil {
			return err
		}
		stitch.ParentAttr = a.RefKey()
		stitch.FilterAlias = alias
		stitch.FilterColumn = fkCol
		stitch.ChildLabel = Label(alias, fkCol)
		step.Columns = append(step.Columns, Column{
			TableAlias: alias, Name: fkCol, Attr: a.ForeignKey(), Label: stitch.ChildLabel,
		})
	case graph.BelongsToMany:
		th := a.Through()
		thAlias := alias + "_" + inflect.Underscore(th.Name())
		tgtCol, err := columnOf(target, target.PKName())
		if err != nil {
			return err
		}
		srcFKCol, err := columnOf(th, a.SourceForeignKey())
		if err != nil {
			return err
		}
		tgtFKCol, err := columnOf(th, a.TargetForeignKey())
		if err != nil {
			return err
		}
		step.Joins = append(step.Joins, Join{
			Kind: InnerJoin, Table: th.Table(), TableAlias: thAlias,
			FromAlias: alias, FromColumn: tgtCol, ToColumn: tgtFKCol,
		})
		stitch.ParentAttr = parent.PKName()
		stitch.FilterAlias = thAlias
		stitch.FilterColumn = srcFKCol
		stitch.ChildLabel = Label(thAlias, srcFKCol)
		stitch.ThroughAlias = thAlias
		stitch.ThroughType = th
		stitch.ThroughSourceLabel = stitch.ChildLabel
		stitch.ThroughTargetLabel = Label(thAlias, tgtFKCol)
		step.Columns = append(step.Columns,
			Column{TableAlias: thAlias, Name: srcFKCol, Attr: a.SourceForeignKey(), Label: stitch.ThroughSourceLabel},
			Column{TableAlias: thAlias, Name: tgtFKCol, Attr: a.TargetForeignKey(), Label: stitch.ThroughTargetLabel},
		)
		stitch.ThroughLift = liftColumns(th, thAlias, a)
		step.Columns = append(step.Columns, stitch.ThroughLift...)
	default:
		// BelongsTo/HasOne never split: they cannot multiply parent rows.
		return pl.joinInclude(parentStep, parentAlias, parent, a, in, eff, alias, path, &parentStep.Attaches)
	}
	// The parent's table must project the stitch key.
	projected := false
	for _, c := range parentStep.Columns {
		if c.TableAlias == parentAlias && c.Attr == stitch.ParentAttr {
			projected = true
			break
		}
	}
	if !projected {
		col, err := columnOf(parent, stitch.ParentAttr)
		if err != nil {
			return err
		}
		parentStep.Columns = append(parentStep.Columns, Column{
			TableAlias: parentAlias, Name: col,
			Attr: stitch.ParentAttr, Label: Label(parentAlias, col),
		})
	}
	if err := pl.applyDescriptor(step, alias, target, eff, false); err != nil {
		return err
	}
	if n, ok := eff.LimitValue(); ok {
		step.Limit = &n
	}
	if n, ok := eff.OffsetValue(); ok {
		step.Offset = &n
	}
	if len(step.Order) == 0 {
		// Stable stitching requires a deterministic child order.
		step.Order = append(step.Order, OrderSpec{
			TableAlias: alias, Type: target, Expr: query.A(target.PKName()), Dir: query.Asc,
		})
	}
	step.Stitch = stitch
	pl.plan.Steps = append(pl.plan.Steps, step)
	return pl.expand(step, alias, target, eff.Includes(), path, &step.Attaches)
}

// baseAlias is the segment an include contributes to its table alias: the
// result key when resolved by alias, the association alias when the include
// named the target type.
func baseAlias(in query.Include, a *graph.Association) string {
	if in.As != "" || in.Alias == a.Alias() {
		return inflect.Underscore(in.Key())
	}
	return inflect.Underscore(a.Alias())
}

// resolve maps an include to an association: first by alias, then by target
// record-type name when the alias does not match.
func (pl *planner) resolve(parent *schema.RecordType, in query.Include) (*graph.Association, error) {
	if a, ok := pl.g.Resolve(parent, in.Alias); ok {
		return a, nil
	}
	cands := pl.g.ResolveTarget(parent, in.Alias)
	switch len(cands) {
	case 0:
		return nil, &UnknownAssociationError{Type: parent.Name(), Alias: in.Alias}
	case 1:
		return cands[0], nil
	default:
		return nil, &AmbiguousAliasError{Type: parent.Name(), Alias: in.Alias}
	}
}

// required derives the include's join semantics: forced by the caller, or
// true iff the include carries its own predicate.
func required(in query.Include) bool {
	if in.Required != nil {
		return *in.Required
	}
	return in.Nested.Predicate() != nil
}

// effectivePredicate combines the descriptor's predicate with the paranoid
// filter of soft-deleting types, unless the descriptor is unscoped.
func effectivePredicate(rt *schema.RecordType, d *query.Descriptor) query.P {
	p := d.Predicate()
	if rt.Paranoid() && !d.IsUnscoped() {
		p = query.And(p, query.IsNull(rt.DeletedAttribute()))
	}
	return p
}

// typeColumns projects the type's attributes at the given alias. The
// primary key is always projected: stitching and materialization key on it.
func typeColumns(rt *schema.RecordType, alias string, proj *query.Projection) ([]Column, error) {
	if proj != nil {
		for _, n := range proj.Names {
			if _, ok := rt.Attribute(n); !ok {
				return nil, &UnknownAttributeError{Type: rt.Name(), Attribute: n}
			}
		}
	}
	names := make([]string, 0, len(rt.Attributes()))
	for _, a := range rt.Attributes() {
		names = append(names, a.Name)
	}
	kept := proj.Apply(names)
	keep := make(map[string]bool, len(kept))
	for _, n := range kept {
		keep[n] = true
	}
	var cols []Column
	for _, a := range rt.Attributes() {
		if !keep[a.Name] && !a.PrimaryKey {
			continue
		}
		cols = append(cols, Column{
			TableAlias: alias, Name: a.Column, Attr: a.Name, Label: Label(alias, a.Column),
		})
	}
	return cols, nil
}

// liftColumns returns the junction's extra attributes: everything beyond
// the two foreign keys and the synthesized key.
func liftColumns(th *schema.RecordType, thAlias string, a *graph.Association) []Column {
	var cols []Column
	for _, attr := range th.Attributes() {
		if attr.Name == a.SourceForeignKey() || attr.Name == a.TargetForeignKey() || attr.PrimaryKey {
			continue
		}
		cols = append(cols, Column{
			TableAlias: thAlias, Name: attr.Column, Attr: attr.Name, Label: Label(thAlias, attr.Column),
		})
	}
	return cols
}

func columnOf(rt *schema.RecordType, attr string) (string, error) {
	a, ok := rt.Attribute(attr)
	if !ok {
		return "", &UnknownAttributeError{Type: rt.Name(), Attribute: attr}
	}
	return a.Column, nil
}

func validatePred(rt *schema.RecordType, p query.P) error {
	for _, name := range query.Attrs(p) {
		if _, ok := rt.Attribute(name); !ok {
			return &UnknownAttributeError{Type: rt.Name(), Attribute: name}
		}
	}
	return nil
}

func validateExpr(rt *schema.RecordType, e query.Expr) error {
	for _, name := range query.ExprAttrs(e) {
		if _, ok := rt.Attribute(name); !ok {
			return &UnknownAttributeError{Type: rt.Name(), Attribute: name}
		}
	}
	return nil
}
