package loom

// Record is a materialized instance of a record type: an attribute-value map
// plus any relations that were eager-loaded alongside it. Records are plain
// values; they hold no reference to the executor that produced them.
type Record struct {
	typeName string
	values   map[string]any
	related  map[string][]*Record
	loaded   map[string]bool
}

// NewRecord returns an empty record of the given type name.
func NewRecord(typeName string) *Record {
	return &Record{
		typeName: typeName,
		values:   make(map[string]any),
	}
}

// TypeName returns the name of the record type this instance belongs to.
func (r *Record) TypeName() string { return r.typeName }

// Get returns the value of the given attribute, or nil if it is absent.
func (r *Record) Get(name string) any { return r.values[name] }

// Lookup returns the value of the given attribute and whether it is present.
func (r *Record) Lookup(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Set assigns an attribute value on the record.
func (r *Record) Set(name string, v any) { r.values[name] = v }

// Unset removes an attribute value from the record.
func (r *Record) Unset(name string) { delete(r.values, name) }

// Values returns a copy of the record's attribute values.
func (r *Record) Values() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// SetRelated attaches eager-loaded records under the given relation alias.
// An empty slice marks the relation as loaded with no results.
func (r *Record) SetRelated(alias string, recs []*Record) {
	if r.related == nil {
		r.related = make(map[string][]*Record)
		r.loaded = make(map[string]bool)
	}
	r.related[alias] = recs
	r.loaded[alias] = true
}

// AddRelated appends one record to an eager-loaded relation, marking it
// loaded if it was not.
func (r *Record) AddRelated(alias string, rec *Record) {
	if r.related == nil {
		r.related = make(map[string][]*Record)
		r.loaded = make(map[string]bool)
	}
	r.related[alias] = append(r.related[alias], rec)
	r.loaded[alias] = true
}

// Related returns the eager-loaded records for the given alias. It returns
// a NotLoadedError if the relation was not part of the originating query.
func (r *Record) Related(alias string) ([]*Record, error) {
	if !r.loaded[alias] {
		return nil, NewNotLoadedError(alias)
	}
	return r.related[alias], nil
}

// RelatedOne returns the single eager-loaded record for the given alias.
// It returns nil if the relation was loaded empty, and a NotLoadedError if
// it was not loaded at all.
func (r *Record) RelatedOne(alias string) (*Record, error) {
	recs, err := r.Related(alias)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// ThroughKey identifies one junction row of a many-to-many association in
// the side channel returned alongside query results.
type ThroughKey struct {
	ParentID any
	ChildID  any
	Alias    string
}

// ThroughValues is the side channel carrying the extra attributes of
// junction rows, keyed by (parent id, child id, association alias). Through
// attributes are never merged into either endpoint's own attribute map.
type ThroughValues map[ThroughKey]map[string]any

// Get returns the through attributes for one association pair, or nil.
func (tv ThroughValues) Get(parentID, childID any, alias string) map[string]any {
	return tv[ThroughKey{ParentID: parentID, ChildID: childID, Alias: alias}]
}

// Merge copies all entries of other into tv, later writes winning.
func (tv ThroughValues) Merge(other ThroughValues) {
	for k, v := range other {
		tv[k] = v
	}
}
