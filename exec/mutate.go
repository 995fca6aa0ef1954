package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/hook"
	"github.com/syssam/loom/plan"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// MutateOptions carry the cross-cutting switches of a mutating operation.
type MutateOptions struct {
	uow        UnitOfWork
	individual bool
	force      bool
	extra      map[string]any
}

// MutateOption configures one mutating operation.
type MutateOption func(*MutateOptions)

// InUnitOfWork runs the operation inside the caller's unit of work. The
// runner never commits or rolls back a unit it did not begin.
func InUnitOfWork(uow UnitOfWork) MutateOption {
	return func(o *MutateOptions) { o.uow = uow }
}

// WithIndividualHooks makes bulk operations run the per-record hook
// lifecycle for every affected record, in addition to the bulk phases.
func WithIndividualHooks() MutateOption {
	return func(o *MutateOptions) { o.individual = true }
}

// WithForce makes destroy operations delete rows outright, bypassing the
// soft-delete of paranoid types.
func WithForce() MutateOption {
	return func(o *MutateOptions) { o.force = true }
}

// WithHookOption passes an opaque option through to every hook of the
// operation.
func WithHookOption(key string, v any) MutateOption {
	return func(o *MutateOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[key] = v
	}
}

func applyMutateOptions(opts []MutateOption) *MutateOptions {
	o := &MutateOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Atomic runs fn inside the supplied unit of work when one is given, or
// begins, commits and (on failure) rolls back its own. A failed rollback
// is reported as a RollbackError preserving the original cause.
func (r *Runner) Atomic(ctx context.Context, supplied UnitOfWork, fn func(UnitOfWork) error) error {
	if supplied != nil {
		return fn(supplied)
	}
	uow, err := r.exec.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			return &loom.RollbackError{Cause: err, Err: rbErr}
		}
		return err
	}
	return uow.Commit()
}

// Create inserts one record of typeName, running the full hook lifecycle.
// Attribute defaults apply to values the caller omits; a generated key is
// written back onto the returned record.
func (r *Runner) Create(ctx context.Context, typeName string, values map[string]any, opts ...MutateOption) (*loom.Record, error) {
	rt, ok := r.reg.Lookup(typeName)
	if !ok {
		return nil, &UnknownTypeError{Name: typeName}
	}
	o := applyMutateOptions(opts)
	rec, err := r.newRecord(rt, values)
	if err != nil {
		return nil, err
	}
	e := &hook.Event{Type: typeName, Op: hook.OpCreate, Record: rec, Values: values, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpCreate, e)
	err = m.Run(ctx, r.validateFn(rt, rec), func(ctx context.Context) (int64, error) {
		return r.insert(ctx, rt, rec, o.uow)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies values to one record, identified by its primary key. The
// values are merged into the record after a successful persist, so
// after-update hooks observe the new state.
func (r *Runner) Update(ctx context.Context, rec *loom.Record, values map[string]any, opts ...MutateOption) error {
	rt, ok := r.reg.Lookup(rec.TypeName())
	if !ok {
		return &UnknownTypeError{Name: rec.TypeName()}
	}
	o := applyMutateOptions(opts)
	pk := rt.PKName()
	pkv := rec.Get(pk)
	if pkv == nil {
		return &MissingKeyError{Type: rt.Name(), Key: pk}
	}
	staged, err := r.stageUpdate(rt, rec, values)
	if err != nil {
		return err
	}
	e := &hook.Event{Type: rt.Name(), Op: hook.OpUpdate, Record: rec, Values: values, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpUpdate, e)
	return m.Run(ctx, r.validateFn(rt, staged), func(ctx context.Context) (int64, error) {
		return r.updateByKey(ctx, rt, rec, values, o.uow)
	})
}

// Destroy removes one record. Paranoid types are soft-deleted by stamping
// their deletion attribute; WithForce deletes the row outright.
func (r *Runner) Destroy(ctx context.Context, rec *loom.Record, opts ...MutateOption) error {
	rt, ok := r.reg.Lookup(rec.TypeName())
	if !ok {
		return &UnknownTypeError{Name: rec.TypeName()}
	}
	o := applyMutateOptions(opts)
	pk := rt.PKName()
	pkv := rec.Get(pk)
	if pkv == nil {
		return &MissingKeyError{Type: rt.Name(), Key: pk}
	}
	e := &hook.Event{Type: rt.Name(), Op: hook.OpDestroy, Record: rec, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpDestroy, e)
	return m.Run(ctx, nil, func(ctx context.Context) (int64, error) {
		if rt.Paranoid() && !o.force {
			return r.updateByKey(ctx, rt, rec, map[string]any{rt.DeletedAttribute(): time.Now().UTC()}, o.uow)
		}
		where, err := r.keyPredicate(rt, pkv)
		if err != nil {
			return 0, err
		}
		res, err := r.exec.Exec(ctx, &Mutation{Kind: Delete, Type: rt, Where: where}, o.uow)
		if err != nil {
			return 0, err
		}
		return res.Affected, nil
	})
}

// Restore clears the soft-delete stamp of a paranoid record. It runs the
// update hook phases: a restore is an update of the deletion attribute.
func (r *Runner) Restore(ctx context.Context, rec *loom.Record, opts ...MutateOption) error {
	rt, ok := r.reg.Lookup(rec.TypeName())
	if !ok {
		return &UnknownTypeError{Name: rec.TypeName()}
	}
	if !rt.Paranoid() {
		return fmt.Errorf("loom: %s is not paranoid", rt.Name())
	}
	o := applyMutateOptions(opts)
	if rec.Get(rt.PKName()) == nil {
		return &MissingKeyError{Type: rt.Name(), Key: rt.PKName()}
	}
	e := &hook.Event{Type: rt.Name(), Op: hook.OpRestore, Record: rec, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpRestore, e)
	return m.Run(ctx, nil, func(ctx context.Context) (int64, error) {
		return r.updateByKey(ctx, rt, rec, map[string]any{rt.DeletedAttribute(): nil}, o.uow)
	})
}

// BulkCreate inserts many records of typeName in one unit of work. Bulk
// hook phases wrap the whole batch; WithIndividualHooks additionally runs
// the per-record create lifecycle for each record.
func (r *Runner) BulkCreate(ctx context.Context, typeName string, valuesList []map[string]any, opts ...MutateOption) ([]*loom.Record, error) {
	rt, ok := r.reg.Lookup(typeName)
	if !ok {
		return nil, &UnknownTypeError{Name: typeName}
	}
	o := applyMutateOptions(opts)
	recs := make([]*loom.Record, 0, len(valuesList))
	for _, values := range valuesList {
		rec, err := r.newRecord(rt, values)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	e := &hook.Event{Type: typeName, Op: hook.OpBulkCreate, Records: recs, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpBulkCreate, e)
	validate := func(ctx context.Context) error {
		for _, rec := range recs {
			if err := r.validateFn(rt, rec)(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	err := r.Atomic(ctx, o.uow, func(uow UnitOfWork) error {
		return m.Run(ctx, validate, func(ctx context.Context) (int64, error) {
			var n int64
			for i, rec := range recs {
				if o.individual {
					pe := &hook.Event{Type: typeName, Op: hook.OpCreate, Record: rec, Values: valuesList[i], Options: o.extra}
					pm := hook.NewMachine(r.hooks, hook.OpCreate, pe)
					if err := pm.Run(ctx, nil, func(ctx context.Context) (int64, error) {
						return r.insert(ctx, rt, rec, uow)
					}); err != nil {
						return n, err
					}
					n += pe.Affected
					continue
				}
				affected, err := r.insert(ctx, rt, rec, uow)
				if err != nil {
					return n, err
				}
				n += affected
			}
			return n, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// BulkUpdate applies values to every record of typeName matching the
// descriptor's filter. Without WithIndividualHooks the update is a single
// set-based write and per-record hooks do not fire; bulk after-hooks run
// even when zero rows matched.
func (r *Runner) BulkUpdate(ctx context.Context, typeName string, values map[string]any, d *query.Descriptor, opts ...MutateOption) (int64, error) {
	rt, ok := r.reg.Lookup(typeName)
	if !ok {
		return 0, &UnknownTypeError{Name: typeName}
	}
	o := applyMutateOptions(opts)
	if d == nil {
		d = query.New()
	}
	if err := r.checkWritable(rt, values); err != nil {
		return 0, err
	}
	e := &hook.Event{Type: typeName, Op: hook.OpBulkUpdate, Values: values, Descriptor: d, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpBulkUpdate, e)
	err := r.Atomic(ctx, o.uow, func(uow UnitOfWork) error {
		return m.Run(ctx, nil, func(ctx context.Context) (int64, error) {
			if o.individual {
				return r.eachMatching(ctx, rt, e.Descriptor, uow, func(rec *loom.Record) error {
					return r.Update(ctx, rec, values, InUnitOfWork(uow))
				})
			}
			vals, err := r.encodeUpdate(rt, values)
			if err != nil {
				return 0, err
			}
			res, err := r.exec.Exec(ctx, &Mutation{
				Kind: Update, Type: rt, Values: vals, Where: r.scopedWhere(rt, e.Descriptor),
			}, uow)
			if err != nil {
				return 0, err
			}
			return res.Affected, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return e.Affected, nil
}

// BulkDestroy removes every record of typeName matching the descriptor's
// filter, soft-deleting paranoid types unless forced.
func (r *Runner) BulkDestroy(ctx context.Context, typeName string, d *query.Descriptor, opts ...MutateOption) (int64, error) {
	rt, ok := r.reg.Lookup(typeName)
	if !ok {
		return 0, &UnknownTypeError{Name: typeName}
	}
	o := applyMutateOptions(opts)
	if d == nil {
		d = query.New()
	}
	e := &hook.Event{Type: typeName, Op: hook.OpBulkDestroy, Descriptor: d, Options: o.extra}
	m := hook.NewMachine(r.hooks, hook.OpBulkDestroy, e)
	err := r.Atomic(ctx, o.uow, func(uow UnitOfWork) error {
		return m.Run(ctx, nil, func(ctx context.Context) (int64, error) {
			if o.individual {
				return r.eachMatching(ctx, rt, e.Descriptor, uow, func(rec *loom.Record) error {
					opts := []MutateOption{InUnitOfWork(uow)}
					if o.force {
						opts = append(opts, WithForce())
					}
					return r.Destroy(ctx, rec, opts...)
				})
			}
			if rt.Paranoid() && !o.force {
				vals, err := r.encodeUpdate(rt, map[string]any{rt.DeletedAttribute(): time.Now().UTC()})
				if err != nil {
					return 0, err
				}
				res, err := r.exec.Exec(ctx, &Mutation{
					Kind: Update, Type: rt, Values: vals, Where: r.scopedWhere(rt, e.Descriptor),
				}, uow)
				if err != nil {
					return 0, err
				}
				return res.Affected, nil
			}
			res, err := r.exec.Exec(ctx, &Mutation{
				Kind: Delete, Type: rt, Where: r.scopedWhere(rt, e.Descriptor),
			}, uow)
			if err != nil {
				return 0, err
			}
			return res.Affected, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return e.Affected, nil
}

// newRecord builds a record from caller values plus attribute defaults.
func (r *Runner) newRecord(rt *schema.RecordType, values map[string]any) (*loom.Record, error) {
	rec := loom.NewRecord(rt.Name())
	for name := range values {
		if _, ok := rt.Attribute(name); !ok {
			return nil, &plan.UnknownAttributeError{Type: rt.Name(), Attribute: name}
		}
	}
	for _, attr := range rt.Attributes() {
		if v, ok := values[attr.Name]; ok {
			rec.Set(attr.Name, v)
			continue
		}
		if attr.AutoIncrement {
			continue
		}
		if v, ok := attr.DefaultValue(); ok {
			rec.Set(attr.Name, v)
		}
	}
	return rec, nil
}

// stageUpdate returns a copy of rec with values merged, for validation
// against the post-update state, and rejects writes to immutable
// attributes.
func (r *Runner) stageUpdate(rt *schema.RecordType, rec *loom.Record, values map[string]any) (*loom.Record, error) {
	if err := r.checkWritable(rt, values); err != nil {
		return nil, err
	}
	staged := loom.NewRecord(rt.Name())
	for k, v := range rec.Values() {
		staged.Set(k, v)
	}
	for k, v := range values {
		staged.Set(k, v)
	}
	return staged, nil
}

func (r *Runner) checkWritable(rt *schema.RecordType, values map[string]any) error {
	var violations []loom.Violation
	for name := range values {
		attr, ok := rt.Attribute(name)
		if !ok {
			return &plan.UnknownAttributeError{Type: rt.Name(), Attribute: name}
		}
		if attr.Immutable {
			violations = append(violations, loom.Violation{
				Attribute: name, Message: "attribute is immutable",
			})
		}
	}
	if len(violations) > 0 {
		return loom.NewValidationError(rt.Name(), violations)
	}
	return nil
}

// validateFn builds the validate step of a mutation: structural checks
// first (required attributes, enum membership), then the installed rules.
func (r *Runner) validateFn(rt *schema.RecordType, rec *loom.Record) func(context.Context) error {
	return func(ctx context.Context) error {
		var violations []loom.Violation
		for _, attr := range rt.Attributes() {
			v, present := rec.Lookup(attr.Name)
			if !present || v == nil {
				if !attr.Nullable && !attr.Optional && !attr.AutoIncrement && attr.Name != rt.DeletedAttribute() {
					violations = append(violations, loom.Violation{
						Attribute: attr.Name, Message: "cannot be null",
					})
				}
				continue
			}
			if len(attr.Values) > 0 {
				s := fmt.Sprintf("%v", v)
				ok := false
				for _, allowed := range attr.Values {
					if s == allowed {
						ok = true
						break
					}
				}
				if !ok {
					violations = append(violations, loom.Violation{
						Attribute: attr.Name, Message: fmt.Sprintf("%q is not a valid value", s),
					})
				}
			}
		}
		violations = append(violations, r.rules.Validate(ctx, rec, rt)...)
		if len(violations) > 0 {
			return loom.NewValidationError(rt.Name(), violations)
		}
		return nil
	}
}

// insert persists one record, writing a generated key back if the backend
// returns one.
func (r *Runner) insert(ctx context.Context, rt *schema.RecordType, rec *loom.Record, uow UnitOfWork) (int64, error) {
	pk := rt.PKName()
	vals := make(map[string]any)
	var returning string
	for _, attr := range rt.Attributes() {
		v, present := rec.Lookup(attr.Name)
		if !present {
			continue
		}
		if attr.AutoIncrement && v == nil {
			continue
		}
		enc, err := r.codec.Encode(v, attr)
		if err != nil {
			return 0, err
		}
		vals[attr.Name] = enc
	}
	if pkAttr, ok := rt.Attribute(pk); ok && pkAttr.AutoIncrement {
		if _, present := vals[pk]; !present {
			returning = pk
		}
	}
	res, err := r.exec.Exec(ctx, &Mutation{Kind: Insert, Type: rt, Values: vals, Returning: returning}, uow)
	if err != nil {
		return 0, err
	}
	if returning != "" && res.Key != nil {
		pkAttr, _ := rt.Attribute(pk)
		dec, err := r.codec.Decode(res.Key, pkAttr)
		if err != nil {
			return 0, err
		}
		rec.Set(pk, dec)
	}
	affected := res.Affected
	if affected == 0 {
		affected = 1
	}
	return affected, nil
}

// updateByKey persists values against one record's primary key, stamping
// update defaults, and merges the new state into the record on success.
func (r *Runner) updateByKey(ctx context.Context, rt *schema.RecordType, rec *loom.Record, values map[string]any, uow UnitOfWork) (int64, error) {
	stamped := make(map[string]any, len(values))
	for k, v := range values {
		stamped[k] = v
	}
	for _, attr := range rt.Attributes() {
		if attr.UpdateDefault == nil {
			continue
		}
		if _, ok := stamped[attr.Name]; !ok {
			stamped[attr.Name] = attr.UpdateDefault()
		}
	}
	vals, err := r.encodeUpdate(rt, stamped)
	if err != nil {
		return 0, err
	}
	where, err := r.keyPredicate(rt, rec.Get(rt.PKName()))
	if err != nil {
		return 0, err
	}
	res, err := r.exec.Exec(ctx, &Mutation{Kind: Update, Type: rt, Values: vals, Where: where}, uow)
	if err != nil {
		return 0, err
	}
	for k, v := range stamped {
		rec.Set(k, v)
	}
	return res.Affected, nil
}

func (r *Runner) encodeUpdate(rt *schema.RecordType, values map[string]any) (map[string]any, error) {
	vals := make(map[string]any, len(values))
	for name, v := range values {
		attr, ok := rt.Attribute(name)
		if !ok {
			return nil, &plan.UnknownAttributeError{Type: rt.Name(), Attribute: name}
		}
		enc, err := r.codec.Encode(v, attr)
		if err != nil {
			return nil, err
		}
		vals[name] = enc
	}
	return vals, nil
}

func (r *Runner) keyPredicate(rt *schema.RecordType, pkv any) (query.P, error) {
	pkAttr, ok := rt.Attribute(rt.PKName())
	if !ok {
		return nil, fmt.Errorf("loom: %s has no primary key", rt.Name())
	}
	enc, err := r.codec.Encode(pkv, pkAttr)
	if err != nil {
		return nil, err
	}
	return query.EQ(rt.PKName(), enc), nil
}

// scopedWhere combines the descriptor's predicate with the paranoid filter
// of soft-deleting types, mirroring what the planner does for reads.
func (r *Runner) scopedWhere(rt *schema.RecordType, d *query.Descriptor) query.P {
	p := d.Predicate()
	if rt.Paranoid() && !d.IsUnscoped() {
		p = query.And(p, query.IsNull(rt.DeletedAttribute()))
	}
	return p
}

// eachMatching fetches the records matching d (filter only, no includes)
// and applies fn to each, reporting how many succeeded before the first
// failure.
func (r *Runner) eachMatching(ctx context.Context, rt *schema.RecordType, d *query.Descriptor, uow UnitOfWork, fn func(*loom.Record) error) (int64, error) {
	flat := query.New().Where(d.Predicate())
	if d.IsUnscoped() {
		flat = flat.Unscoped()
	}
	p, err := r.plans.Plan(rt, flat, r.g)
	if err != nil {
		return 0, err
	}
	recs, _, err := r.runPlan(ctx, p, uow)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
