package rawls

import "fmt"

// TypeResolver classifies entries, consulting lstat only when the batch
// reader could not.
type TypeResolver struct {
	diag  *Diagnostics
	stats *Stats
}

// Resolve lstats the entry at path, whose type the reader left unknown.
// The metadata is returned with ok set so callers can reuse it. A failed
// lookup is reported and the entry stays unknown.
func (r *TypeResolver) Resolve(path string) (t EntryType, md Metadata, ok bool) {
	md, ok = r.lookup(path)
	if !ok {
		return TypeUnknown, md, false
	}
	return TypeFromMode(md.Mode), md, true
}

// Size returns the size of the entry at path, reusing md when Resolve
// already fetched it. A failed lookup reports 0.
func (r *TypeResolver) Size(path string, md Metadata, ok bool) int64 {
	if !ok {
		md, _ = r.lookup(path)
	}
	return md.Size
}

func (r *TypeResolver) lookup(path string) (Metadata, bool) {
	md, err := lstat(path)
	r.observe(path, err)
	if err != nil {
		return Metadata{}, false
	}
	return md, true
}

// observe counts one lstat of path and reports it if it failed. Readers
// that look entries up themselves report through it as well.
func (r *TypeResolver) observe(path string, err error) {
	r.stats.MetadataLookups++
	if err != nil {
		r.stats.ErrorCount++
		r.diag.Error(path, fmt.Errorf("lstat: %w", err))
	}
}
