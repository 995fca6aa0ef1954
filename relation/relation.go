// Package relation generates per-record association operations: get, set,
// add, remove, create, count and has, each gated by what the association's
// kind supports. Operations touching more than one row run inside a single
// unit of work.
package relation

import (
	"context"
	"fmt"

	"github.com/syssam/loom"
	"github.com/syssam/loom/exec"
	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
)

// A Manager resolves relation handles against one runner's graph.
type Manager struct {
	runner *exec.Runner
}

// NewManager returns a manager over the given runner.
func NewManager(r *exec.Runner) *Manager {
	return &Manager{runner: r}
}

// Of returns the relation handle for one record and association alias.
func (m *Manager) Of(rec *loom.Record, alias string) (*Relation, error) {
	rt, ok := m.runner.Graph().Registry().Lookup(rec.TypeName())
	if !ok {
		return nil, &exec.UnknownTypeError{Name: rec.TypeName()}
	}
	a, ok := m.runner.Graph().Resolve(rt, alias)
	if !ok {
		return nil, &plan.UnknownAssociationError{Type: rt.Name(), Alias: alias}
	}
	return &Relation{mgr: m, rec: rec, assoc: a}, nil
}

// Options carry the cross-cutting switches of a relation operation.
type Options struct {
	uow     exec.UnitOfWork
	through map[string]any
}

// Option configures one relation operation.
type Option func(*Options)

// InUnitOfWork runs the operation inside the caller's unit of work.
func InUnitOfWork(uow exec.UnitOfWork) Option {
	return func(o *Options) { o.uow = uow }
}

// WithThrough attaches junction attributes to the pairs an add or set
// operation inserts. Only many-to-many associations accept it.
func WithThrough(values map[string]any) Option {
	return func(o *Options) { o.through = values }
}

func applyOptions(opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// A Relation is the operation surface of one association on one record.
type Relation struct {
	mgr   *Manager
	rec   *loom.Record
	assoc *graph.Association
}

// Association returns the underlying association.
func (rl *Relation) Association() *graph.Association { return rl.assoc }

// Get fetches the related records, layering the optional descriptor on top
// of the association's default scope. Inside a unit of work (InUnitOfWork)
// the read observes the transaction's uncommitted writes.
func (rl *Relation) Get(ctx context.Context, d *query.Descriptor, opts ...Option) ([]*loom.Record, error) {
	r := rl.mgr.runner
	o := applyOptions(opts)
	base, err := rl.targetFilter(ctx, o.uow)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return []*loom.Record{}, nil
	}
	eff := query.Merge(rl.assoc.Scope(), d)
	eff = query.Merge(query.New().Where(base), eff)
	return firstOf2(r.FindIn(ctx, rl.assoc.Target().Name(), eff, o.uow))
}

// GetOne fetches the single related record of a to-one association, nil
// when none is linked.
func (rl *Relation) GetOne(ctx context.Context, d *query.Descriptor, opts ...Option) (*loom.Record, error) {
	if rl.assoc.ToMany() {
		return nil, rl.notAssociable("getOne")
	}
	recs, err := rl.Get(ctx, d, opts...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Count reports how many related records match the optional filter,
// independent of its pagination.
func (rl *Relation) Count(ctx context.Context, d *query.Descriptor, opts ...Option) (int64, error) {
	o := applyOptions(opts)
	base, err := rl.targetFilter(ctx, o.uow)
	if err != nil {
		return 0, err
	}
	if base == nil {
		return 0, nil
	}
	counting := query.New().Where(base)
	if d != nil {
		counting = counting.Where(d.Predicate())
	}
	return rl.mgr.runner.CountIn(ctx, rl.assoc.Target().Name(), counting, o.uow)
}

// Has reports whether every given record is associated.
func (rl *Relation) Has(ctx context.Context, targets []*loom.Record, opts ...Option) (bool, error) {
	if len(targets) == 0 {
		return true, nil
	}
	ids, err := rl.targetIDs(targets)
	if err != nil {
		return false, err
	}
	pk := rl.assoc.Target().PKName()
	recs, err := rl.Get(ctx, query.New().Where(query.In(pk, ids...)).Select(pk), opts...)
	if err != nil {
		return false, err
	}
	found := make(map[string]bool, len(recs))
	for _, rec := range recs {
		found[canon(rec.Get(pk))] = true
	}
	for _, id := range ids {
		if !found[canon(id)] {
			return false, nil
		}
	}
	return true, nil
}

// Set replaces the association's membership with exactly the given
// records. Passing none clears it. The diff is applied in one unit of
// work; junction attributes are validated before any row is written.
func (rl *Relation) Set(ctx context.Context, targets []*loom.Record, opts ...Option) error {
	o := applyOptions(opts)
	switch rl.assoc.Kind() {
	case graph.BelongsTo:
		return rl.setBelongsTo(ctx, targets, o)
	case graph.HasOne:
		return rl.setHasKind(ctx, targets, o, true)
	case graph.HasMany:
		return rl.setHasKind(ctx, targets, o, false)
	case graph.BelongsToMany:
		return rl.setThrough(ctx, targets, o)
	}
	return rl.notAssociable("set")
}

// Add links the given records without touching existing membership. Only
// to-many associations support it.
func (rl *Relation) Add(ctx context.Context, targets []*loom.Record, opts ...Option) error {
	if !rl.assoc.ToMany() {
		return rl.notAssociable("add")
	}
	if len(targets) == 0 {
		return nil
	}
	o := applyOptions(opts)
	r := rl.mgr.runner
	src, err := rl.sourceKey()
	if err != nil {
		return err
	}
	ids, err := rl.targetIDs(targets)
	if err != nil {
		return err
	}
	if rl.assoc.Kind() == graph.HasMany {
		pred := query.In(rl.assoc.Target().PKName(), ids...)
		_, err := r.BulkUpdate(ctx, rl.assoc.Target().Name(),
			map[string]any{rl.assoc.ForeignKey(): src}, query.New().Where(pred),
			exec.InUnitOfWork(o.uow))
		return err
	}
	rows, err := rl.throughRows(src, ids, o.through)
	if err != nil {
		return err
	}
	return r.Atomic(ctx, o.uow, func(uow exec.UnitOfWork) error {
		_, err := r.BulkCreate(ctx, rl.assoc.Through().Name(), rows, exec.InUnitOfWork(uow))
		return err
	})
}

// Remove unlinks the given records. Only to-many associations support it.
func (rl *Relation) Remove(ctx context.Context, targets []*loom.Record, opts ...Option) error {
	if !rl.assoc.ToMany() {
		return rl.notAssociable("remove")
	}
	if len(targets) == 0 {
		return nil
	}
	o := applyOptions(opts)
	r := rl.mgr.runner
	src, err := rl.sourceKey()
	if err != nil {
		return err
	}
	ids, err := rl.targetIDs(targets)
	if err != nil {
		return err
	}
	if rl.assoc.Kind() == graph.HasMany {
		pred := query.And(
			query.EQ(rl.assoc.ForeignKey(), src),
			query.In(rl.assoc.Target().PKName(), ids...),
		)
		_, err := r.BulkUpdate(ctx, rl.assoc.Target().Name(),
			map[string]any{rl.assoc.ForeignKey(): nil}, query.New().Where(pred),
			exec.InUnitOfWork(o.uow))
		return err
	}
	pred := query.And(
		query.EQ(rl.assoc.SourceForeignKey(), src),
		query.In(rl.assoc.TargetForeignKey(), ids...),
	)
	_, err = r.BulkDestroy(ctx, rl.assoc.Through().Name(), query.New().Where(pred),
		exec.InUnitOfWork(o.uow))
	return err
}

// Create inserts a new target record pre-linked to this record.
// Many-to-many associations do not support it: create the target and Add
// it instead.
func (rl *Relation) Create(ctx context.Context, values map[string]any, opts ...Option) (*loom.Record, error) {
	o := applyOptions(opts)
	r := rl.mgr.runner
	switch rl.assoc.Kind() {
	case graph.HasOne, graph.HasMany:
		src, err := rl.sourceKey()
		if err != nil {
			return nil, err
		}
		linked := make(map[string]any, len(values)+1)
		for k, v := range values {
			linked[k] = v
		}
		linked[rl.assoc.ForeignKey()] = src
		return r.Create(ctx, rl.assoc.Target().Name(), linked, exec.InUnitOfWork(o.uow))
	case graph.BelongsTo:
		var created *loom.Record
		err := r.Atomic(ctx, o.uow, func(uow exec.UnitOfWork) error {
			rec, err := r.Create(ctx, rl.assoc.Target().Name(), values, exec.InUnitOfWork(uow))
			if err != nil {
				return err
			}
			created = rec
			return r.Update(ctx, rl.rec, map[string]any{
				rl.assoc.ForeignKey(): rec.Get(rl.assoc.RefKey()),
			}, exec.InUnitOfWork(uow))
		})
		if err != nil {
			return nil, err
		}
		return created, nil
	default:
		return nil, rl.notAssociable("create")
	}
}

func (rl *Relation) setBelongsTo(ctx context.Context, targets []*loom.Record, o *Options) error {
	if len(targets) > 1 {
		return rl.notAssociable("set with multiple records")
	}
	var fk any
	if len(targets) == 1 && targets[0] != nil {
		v := targets[0].Get(rl.assoc.RefKey())
		if v == nil {
			return &exec.MissingKeyError{Type: rl.assoc.Target().Name(), Key: rl.assoc.RefKey()}
		}
		fk = v
	}
	return rl.mgr.runner.Update(ctx, rl.rec,
		map[string]any{rl.assoc.ForeignKey(): fk}, exec.InUnitOfWork(o.uow))
}

// setHasKind re-points foreign keys: clears the rows currently linked that
// are not in the new set, then links the new set.
func (rl *Relation) setHasKind(ctx context.Context, targets []*loom.Record, o *Options, single bool) error {
	if single && len(targets) > 1 {
		return rl.notAssociable("set with multiple records")
	}
	r := rl.mgr.runner
	src, err := rl.sourceKey()
	if err != nil {
		return err
	}
	ids, err := rl.targetIDs(targets)
	if err != nil {
		return err
	}
	fk := rl.assoc.ForeignKey()
	pk := rl.assoc.Target().PKName()
	return r.Atomic(ctx, o.uow, func(uow exec.UnitOfWork) error {
		unlink := query.EQ(fk, src)
		if len(ids) > 0 {
			unlink = query.And(unlink, query.NotIn(pk, ids...))
		}
		if _, err := r.BulkUpdate(ctx, rl.assoc.Target().Name(),
			map[string]any{fk: nil}, query.New().Where(unlink),
			exec.InUnitOfWork(uow)); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err := r.BulkUpdate(ctx, rl.assoc.Target().Name(),
			map[string]any{fk: src}, query.New().Where(query.In(pk, ids...)),
			exec.InUnitOfWork(uow))
		return err
	})
}

// setThrough diffs the junction: removes pairs falling out of the set and
// inserts the new ones, carrying any junction attributes.
func (rl *Relation) setThrough(ctx context.Context, targets []*loom.Record, o *Options) error {
	r := rl.mgr.runner
	src, err := rl.sourceKey()
	if err != nil {
		return err
	}
	ids, err := rl.targetIDs(targets)
	if err != nil {
		return err
	}
	th := rl.assoc.Through()
	srcFK := rl.assoc.SourceForeignKey()
	tgtFK := rl.assoc.TargetForeignKey()
	// The diff must see pairs written earlier in the caller's transaction.
	existing, _, err := r.FindIn(ctx, th.Name(), query.New().Where(query.EQ(srcFK, src)), o.uow)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, row := range existing {
		have[canon(row.Get(tgtFK))] = true
	}
	var added []any
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		ck := canon(id)
		want[ck] = true
		if !have[ck] {
			added = append(added, id)
		}
	}
	var removed []any
	for _, row := range existing {
		if !want[canon(row.Get(tgtFK))] {
			removed = append(removed, row.Get(tgtFK))
		}
	}
	rows, err := rl.throughRows(src, added, o.through)
	if err != nil {
		return err
	}
	return r.Atomic(ctx, o.uow, func(uow exec.UnitOfWork) error {
		if len(removed) > 0 {
			pred := query.And(query.EQ(srcFK, src), query.In(tgtFK, removed...))
			if _, err := r.BulkDestroy(ctx, th.Name(), query.New().Where(pred),
				exec.InUnitOfWork(uow)); err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			if _, err := r.BulkCreate(ctx, th.Name(), rows, exec.InUnitOfWork(uow)); err != nil {
				return err
			}
		}
		return nil
	})
}

// targetFilter builds the predicate selecting this record's related rows,
// or nil when the link set is provably empty. The junction read of a
// many-to-many association runs inside uow when one is supplied.
func (rl *Relation) targetFilter(ctx context.Context, uow exec.UnitOfWork) (query.P, error) {
	r := rl.mgr.runner
	switch rl.assoc.Kind() {
	case graph.BelongsTo:
		fk := rl.rec.Get(rl.assoc.ForeignKey())
		if fk == nil {
			return nil, nil
		}
		return query.EQ(rl.assoc.RefKey(), fk), nil
	case graph.HasOne, graph.HasMany:
		src, err := rl.sourceKey()
		if err != nil {
			return nil, err
		}
		return query.EQ(rl.assoc.ForeignKey(), src), nil
	case graph.BelongsToMany:
		src, err := rl.sourceKey()
		if err != nil {
			return nil, err
		}
		junction, _, err := r.FindIn(ctx, rl.assoc.Through().Name(),
			query.New().Where(query.EQ(rl.assoc.SourceForeignKey(), src)), uow)
		if err != nil {
			return nil, err
		}
		if len(junction) == 0 {
			return nil, nil
		}
		ids := make([]any, 0, len(junction))
		for _, row := range junction {
			ids = append(ids, row.Get(rl.assoc.TargetForeignKey()))
		}
		return query.In(rl.assoc.Target().PKName(), ids...), nil
	}
	return nil, fmt.Errorf("loom: invalid association kind %d", rl.assoc.Kind())
}

// sourceKey returns the source-side key value linking this record.
func (rl *Relation) sourceKey() (any, error) {
	var name string
	switch rl.assoc.Kind() {
	case graph.BelongsToMany:
		name = rl.assoc.Source().PKName()
	default:
		name = rl.assoc.RefKey()
	}
	v := rl.rec.Get(name)
	if v == nil {
		return nil, &exec.MissingKeyError{Type: rl.assoc.Source().Name(), Key: name}
	}
	return v, nil
}

// targetIDs collects the primary keys of the given records, rejecting
// unsaved ones.
func (rl *Relation) targetIDs(targets []*loom.Record) ([]any, error) {
	pk := rl.assoc.Target().PKName()
	ids := make([]any, 0, len(targets))
	for _, t := range targets {
		if t == nil {
			continue
		}
		v := t.Get(pk)
		if v == nil {
			return nil, &exec.MissingKeyError{Type: rl.assoc.Target().Name(), Key: pk}
		}
		ids = append(ids, v)
	}
	return ids, nil
}

// throughRows builds the junction rows for the given pairings, validating
// the junction attributes before anything is written.
func (rl *Relation) throughRows(src any, ids []any, through map[string]any) ([]map[string]any, error) {
	th := rl.assoc.Through()
	for name, v := range through {
		attr, ok := th.Attribute(name)
		if !ok {
			return nil, &plan.UnknownAttributeError{Type: th.Name(), Attribute: name}
		}
		if _, err := rl.mgr.runner.Codec().Encode(v, attr); err != nil {
			return nil, err
		}
	}
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		row := make(map[string]any, len(through)+2)
		for k, v := range through {
			row[k] = v
		}
		row[rl.assoc.SourceForeignKey()] = src
		row[rl.assoc.TargetForeignKey()] = id
		rows = append(rows, row)
	}
	return rows, nil
}

func (rl *Relation) notAssociable(op string) error {
	return &NotAssociableError{Type: rl.assoc.Source().Name(), Alias: rl.assoc.Alias(), Op: op}
}

func firstOf2(recs []*loom.Record, _ loom.ThroughValues, err error) ([]*loom.Record, error) {
	return recs, err
}

func canon(v any) string { return fmt.Sprintf("%v", v) }
