package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/codec"
	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/hook"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// A Runner executes reads and writes for one relation graph. It is safe
// for concurrent use once constructed.
type Runner struct {
	g      *graph.Graph
	reg    *schema.Registry
	exec   Executor
	codec  loom.ValueCodec
	rules  loom.ValidationRules
	hooks  *hook.Registry
	scopes *query.Scopes
	plans  *plan.Cache
}

// Option configures a Runner.
type Option func(*Runner)

// WithCodec overrides the default value codec.
func WithCodec(c loom.ValueCodec) Option {
	return func(r *Runner) { r.codec = c }
}

// WithValidation installs the validation rules consulted during the
// validate step of every mutating operation.
func WithValidation(rules loom.ValidationRules) Option {
	return func(r *Runner) { r.rules = rules }
}

// WithHooks installs a shared hook registry.
func WithHooks(h *hook.Registry) Option {
	return func(r *Runner) { r.hooks = h }
}

// WithScopes installs a shared scope registry.
func WithScopes(s *query.Scopes) Option {
	return func(r *Runner) { r.scopes = s }
}

// NewRunner returns a runner over the given graph and backend.
func NewRunner(g *graph.Graph, ex Executor, opts ...Option) *Runner {
	r := &Runner{
		g:      g,
		reg:    g.Registry(),
		exec:   ex,
		codec:  codec.New(),
		rules:  loom.NopValidation{},
		hooks:  hook.NewRegistry(),
		scopes: query.NewScopes(),
		plans:  plan.NewCache(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Graph returns the runner's relation graph.
func (r *Runner) Graph() *graph.Graph { return r.g }

// Hooks returns the runner's hook registry.
func (r *Runner) Hooks() *hook.Registry { return r.hooks }

// Scopes returns the runner's scope registry.
func (r *Runner) Scopes() *query.Scopes { return r.scopes }

// Codec returns the runner's value codec.
func (r *Runner) Codec() loom.ValueCodec { return r.codec }

// Executor returns the runner's storage backend.
func (r *Runner) Executor() Executor { return r.exec }

// Plans returns the runner's plan cache.
func (r *Runner) Plans() *plan.Cache { return r.plans }

// Find fetches the records of typeName matching the descriptor, resolving
// every include. The default scope of the type applies unless the
// descriptor is unscoped; scopeNames layer named scopes on top. The second
// return carries junction attributes of many-to-many includes, keyed by
// (parent key, child key, alias).
func (r *Runner) Find(ctx context.Context, typeName string, d *query.Descriptor, scopeNames ...string) ([]*loom.Record, loom.ThroughValues, error) {
	return r.FindIn(ctx, typeName, d, nil, scopeNames...)
}

// FindIn is Find running its reads inside the supplied unit of work, so a
// query issued mid-transaction observes the transaction's uncommitted
// writes. A nil unit of work reads committed state.
func (r *Runner) FindIn(ctx context.Context, typeName string, d *query.Descriptor, uow UnitOfWork, scopeNames ...string) ([]*loom.Record, loom.ThroughValues, error) {
	rt, ok := r.reg.Lookup(typeName)
	if !ok {
		return nil, nil, &UnknownTypeError{Name: typeName}
	}
	if d == nil {
		d = query.New()
	}
	eff, err := r.scopes.Apply(typeName, d, scopeNames...)
	if err != nil {
		return nil, nil, err
	}
	e := &hook.Event{Type: typeName, Op: hook.OpFind, Descriptor: eff}
	if err := r.hooks.Run(ctx, hook.BeforeFind, e); err != nil {
		return nil, nil, err
	}
	p, err := r.plans.Plan(rt, e.Descriptor, r.g)
	if err != nil {
		return nil, nil, err
	}
	recs, through, err := r.runPlan(ctx, p, uow)
	if err != nil {
		return nil, nil, err
	}
	e.Records = recs
	if err := r.hooks.Run(ctx, hook.AfterFind, e); err != nil {
		return nil, nil, err
	}
	return e.Records, through, nil
}

// Only fetches exactly one matching record. It returns a NotFoundError
// when nothing matches and a NotSingularError when more than one record
// does.
func (r *Runner) Only(ctx context.Context, typeName string, d *query.Descriptor, scopeNames ...string) (*loom.Record, loom.ThroughValues, error) {
	if d == nil {
		d = query.New()
	}
	recs, through, err := r.Find(ctx, typeName, d.Limit(2), scopeNames...)
	if err != nil {
		return nil, nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil, loom.NewNotFoundError(typeName)
	case 1:
		return recs[0], through, nil
	default:
		return nil, nil, loom.NewNotSingularError(typeName)
	}
}

// Count reports how many records of typeName match the descriptor's
// filter, independent of its pagination and includes.
func (r *Runner) Count(ctx context.Context, typeName string, d *query.Descriptor, scopeNames ...string) (int64, error) {
	return r.CountIn(ctx, typeName, d, nil, scopeNames...)
}

// CountIn is Count running inside the supplied unit of work.
func (r *Runner) CountIn(ctx context.Context, typeName string, d *query.Descriptor, uow UnitOfWork, scopeNames ...string) (int64, error) {
	if d == nil {
		d = query.New()
	}
	counting := query.New().Select(pkOf(r.reg, typeName)).Where(d.Predicate())
	if d.IsUnscoped() {
		counting = counting.Unscoped()
	}
	recs, _, err := r.FindIn(ctx, typeName, counting, uow, scopeNames...)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func pkOf(reg *schema.Registry, typeName string) string {
	if rt, ok := reg.Lookup(typeName); ok {
		return rt.PKName()
	}
	return ""
}

// runPlan executes the plan's steps in order, stitching split steps back
// onto the records of their parent include path.
func (r *Runner) runPlan(ctx context.Context, p *plan.FetchPlan, uow UnitOfWork) ([]*loom.Record, loom.ThroughValues, error) {
	through := loom.ThroughValues{}
	byPath := make(map[string][]*loom.Record)
	var roots []*loom.Record
	for i, step := range p.Steps {
		if step.Stitch == nil {
			rows, err := r.exec.Query(ctx, step, nil, uow)
			if err != nil {
				return nil, nil, err
			}
			m := newMaterializer(r, step, through, byPath)
			recs, err := m.run(rows)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				roots = recs
			}
			continue
		}
		if err := r.runStitched(ctx, step, byPath, through, uow); err != nil {
			return nil, nil, err
		}
	}
	if roots == nil {
		roots = []*loom.Record{}
	}
	return roots, through, nil
}

// runStitched executes one split step against the key set of its parent
// records and attaches the results. Steps with a per-parent limit run once
// per key so pagination applies within each parent's collection.
func (r *Runner) runStitched(ctx context.Context, step *plan.FetchStep, byPath map[string][]*loom.Record, through loom.ThroughValues, uow UnitOfWork) error {
	st := step.Stitch
	parents := byPath[pathKey(st.Path[:len(st.Path)-1])]
	for _, p := range parents {
		p.SetRelated(st.Alias, nil)
	}
	attr, ok := st.ParentType.Attribute(st.ParentAttr)
	if !ok {
		return fmt.Errorf("loom: %s has no attribute %q", st.ParentType.Name(), st.ParentAttr)
	}
	var (
		keys       []any
		keyValues  []any
		seenKeys   = make(map[string]bool)
		parentsFor = make(map[string][]*loom.Record)
	)
	for _, p := range parents {
		v, ok := p.Lookup(st.ParentAttr)
		if !ok || v == nil {
			continue
		}
		ck := canon(v)
		parentsFor[ck] = append(parentsFor[ck], p)
		if seenKeys[ck] {
			continue
		}
		seenKeys[ck] = true
		enc, err := r.codec.Encode(v, attr)
		if err != nil {
			return err
		}
		keys = append(keys, enc)
		keyValues = append(keyValues, v)
	}
	if len(keys) == 0 {
		return nil
	}
	if st.PerParent {
		for i, k := range keys {
			rows, err := r.exec.Query(ctx, step, []any{k}, uow)
			if err != nil {
				return err
			}
			m := newMaterializer(r, step, through, byPath)
			children, err := m.run(rows)
			if err != nil {
				return err
			}
			for _, p := range parentsFor[canon(keyValues[i])] {
				for _, c := range children {
					p.AddRelated(st.Alias, c)
				}
			}
		}
		return nil
	}
	rows, err := r.exec.Query(ctx, step, keys, uow)
	if err != nil {
		return err
	}
	m := newMaterializer(r, step, through, byPath)
	if _, err := m.run(rows); err != nil {
		return err
	}
	for ck, ps := range parentsFor {
		children := m.byKey[ck]
		for _, p := range ps {
			for _, c := range children {
				p.AddRelated(st.Alias, c)
			}
		}
	}
	return nil
}

// A materializer folds one step's rows into records: the step's base rows
// deduplicated by primary key, join-attached includes grouped under their
// parent row, and junction attributes lifted into the through channel.
type materializer struct {
	r       *Runner
	step    *plan.FetchStep
	through loom.ThroughValues
	byPath  map[string][]*loom.Record

	seen       map[string]*loom.Record
	attSeen    map[string]*loom.Record
	stitchSeen map[string]bool
	byKey      map[string][]*loom.Record
	out        []*loom.Record
}

func newMaterializer(r *Runner, step *plan.FetchStep, through loom.ThroughValues, byPath map[string][]*loom.Record) *materializer {
	return &materializer{
		r:          r,
		step:       step,
		through:    through,
		byPath:     byPath,
		seen:       make(map[string]*loom.Record),
		attSeen:    make(map[string]*loom.Record),
		stitchSeen: make(map[string]bool),
		byKey:      make(map[string][]*loom.Record),
	}
}

func (m *materializer) run(rows []Row) ([]*loom.Record, error) {
	var base string
	if st := m.step.Stitch; st != nil {
		base = pathKey(st.Path)
	}
	for _, row := range rows {
		id, null, err := m.identity(row, m.step.Type, m.step.TableAlias)
		if err != nil {
			return nil, err
		}
		if null {
			continue
		}
		rec := m.seen[id]
		if rec == nil {
			rec, err = m.decodeRecord(row, m.step.Type, m.step.TableAlias)
			if err != nil {
				return nil, err
			}
			m.seen[id] = rec
			m.out = append(m.out, rec)
			m.byPath[base] = append(m.byPath[base], rec)
			preload(rec, m.step.Attaches)
		}
		if m.step.Stitch != nil {
			if err := m.stitchRow(row, rec, id); err != nil {
				return nil, err
			}
		}
		if err := m.attach(row, rec, m.step.Type, m.step.Attaches); err != nil {
			return nil, err
		}
	}
	if m.out == nil {
		m.out = []*loom.Record{}
	}
	return m.out, nil
}

// stitchRow records which parent key the base row belongs to, and lifts
// junction attributes for split many-to-many steps.
func (m *materializer) stitchRow(row Row, rec *loom.Record, id string) error {
	st := m.step.Stitch
	attr, ok := st.ParentType.Attribute(st.ParentAttr)
	if !ok {
		return fmt.Errorf("loom: %s has no attribute %q", st.ParentType.Name(), st.ParentAttr)
	}
	kv, err := m.r.codec.Decode(row[st.ChildLabel], attr)
	if err != nil {
		return err
	}
	if kv == nil {
		return nil
	}
	ck := canon(kv)
	pairing := ck + "\x00" + id
	if !m.stitchSeen[pairing] {
		m.stitchSeen[pairing] = true
		m.byKey[ck] = append(m.byKey[ck], rec)
	}
	if st.ThroughAlias != "" {
		vals, err := m.liftValues(row, st.ThroughType, st.ThroughLift)
		if err != nil {
			return err
		}
		cid := rec.Get(m.step.Type.PKName())
		m.through[loom.ThroughKey{ParentID: kv, ChildID: cid, Alias: st.Alias}] = vals
	}
	return nil
}

// attach folds the row's join-loaded columns into child records hanging
// off rec, recursing through nested attaches.
func (m *materializer) attach(row Row, rec *loom.Record, parentType *schema.RecordType, atts []*plan.Attach) error {
	for _, att := range atts {
		id, null, err := m.identity(row, att.Type, att.TableAlias)
		if err != nil {
			return err
		}
		if null {
			continue
		}
		key := fmt.Sprintf("%p|%s|%s", rec, att.TableAlias, id)
		child := m.attSeen[key]
		if child == nil {
			child, err = m.decodeRecord(row, att.Type, att.TableAlias)
			if err != nil {
				return err
			}
			m.attSeen[key] = child
			rec.AddRelated(att.Alias, child)
			m.byPath[pathKey(att.Path)] = append(m.byPath[pathKey(att.Path)], child)
			preload(child, att.Children)
			if att.ThroughAlias != "" {
				vals, err := m.liftValues(row, att.ThroughType, att.ThroughLift)
				if err != nil {
					return err
				}
				pid := rec.Get(parentType.PKName())
				cid := child.Get(att.Type.PKName())
				m.through[loom.ThroughKey{ParentID: pid, ChildID: cid, Alias: att.Alias}] = vals
			}
		}
		if err := m.attach(row, child, att.Type, att.Children); err != nil {
			return err
		}
	}
	return nil
}

// identity derives the row's dedupe key at one table alias from the
// primary-key columns. A row where every key column is NULL carries no
// record at that alias (an unmatched left join).
func (m *materializer) identity(row Row, rt *schema.RecordType, alias string) (string, bool, error) {
	pks := rt.PrimaryKey()
	if len(pks) == 0 {
		return "", false, fmt.Errorf("loom: %s has no primary key", rt.Name())
	}
	var b strings.Builder
	null := true
	for _, pk := range pks {
		raw := row[plan.Label(alias, pk.Column)]
		if raw != nil {
			null = false
		}
		fmt.Fprintf(&b, "%v|", raw)
	}
	return b.String(), null, nil
}

func (m *materializer) decodeRecord(row Row, rt *schema.RecordType, alias string) (*loom.Record, error) {
	rec := loom.NewRecord(rt.Name())
	for _, col := range m.step.Columns {
		if col.TableAlias != alias {
			continue
		}
		attr, ok := rt.Attribute(col.Attr)
		if !ok {
			continue
		}
		v, err := m.r.codec.Decode(row[col.Label], attr)
		if err != nil {
			return nil, err
		}
		rec.Set(col.Attr, v)
	}
	return rec, nil
}

func (m *materializer) liftValues(row Row, th *schema.RecordType, cols []plan.Column) (map[string]any, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	vals := make(map[string]any, len(cols))
	for _, col := range cols {
		attr, ok := th.Attribute(col.Attr)
		if !ok {
			continue
		}
		v, err := m.r.codec.Decode(row[col.Label], attr)
		if err != nil {
			return nil, err
		}
		vals[col.Attr] = v
	}
	return vals, nil
}

// preload marks every join-loaded relation as loaded-but-empty, so an
// unmatched left join reads as "no related records" rather than
// "not loaded".
func preload(rec *loom.Record, atts []*plan.Attach) {
	for _, att := range atts {
		rec.SetRelated(att.Alias, nil)
	}
}

func pathKey(path []string) string { return strings.Join(path, ".") }

func canon(v any) string { return fmt.Sprintf("%v", v) }
