// Package reconcile classifies a freshly fetched remote collection against
// the local one. It performs no I/O; callers persist the classification.
package reconcile

// Options controls which classifications a merge may produce.
//
// AllowRemoval must be false for partial fetches (paginated history),
// since absence from a page is not evidence of deletion.
type Options struct {
	AllowRemoval bool
	AllowUpdate  bool
}

// Result is the outcome of reconciling a local collection with a remote batch.
// The four sets are pairwise disjoint by id.
type Result[T any, ID comparable] struct {
	// Added holds entities unknown everywhere.
	Added []T
	// AddedLinks holds entities that exist globally but are new to the owner.
	AddedLinks []T
	// Updated holds remote versions of local entities whose fields differ.
	Updated []T
	// RemovedIDs holds local entities missing from the remote batch.
	RemovedIDs []ID
}

// Empty reports whether the merge produced no changes.
func (r *Result[T, ID]) Empty() bool {
	return len(r.Added) == 0 && len(r.AddedLinks) == 0 && len(r.Updated) == 0 && len(r.RemovedIDs) == 0
}

// Merger reconciles collections of T identified by ID.
type Merger[T any, ID comparable] struct {
	// ID extracts the identity of an entity. Required.
	ID func(T) ID
	// Equal reports whether two versions of the same entity carry identical
	// fields. A nil Equal treats every pair as equal, so nothing is updated.
	Equal func(local, remote T) bool
	// Known reports whether an entity absent from the local collection is
	// already stored elsewhere. A nil Known classifies every new id as Added.
	Known func(ID) bool
}

// Reconcile diffs remote against local. Duplicate ids in remote collapse to
// the last occurrence (remote wins) at the position of the first one.
func (m Merger[T, ID]) Reconcile(local, remote []T, opts Options) Result[T, ID] {
	byID := make(map[ID]T, len(local))
	for _, l := range local {
		byID[m.ID(l)] = l
	}

	order := make([]ID, 0, len(remote))
	latest := make(map[ID]T, len(remote))
	for _, r := range remote {
		id := m.ID(r)
		if _, dup := latest[id]; !dup {
			order = append(order, id)
		}
		latest[id] = r
	}

	var res Result[T, ID]
	for _, id := range order {
		r := latest[id]
		l, exists := byID[id]
		switch {
		case !exists && m.Known != nil && m.Known(id):
			res.AddedLinks = append(res.AddedLinks, r)
		case !exists:
			res.Added = append(res.Added, r)
		case opts.AllowUpdate && m.Equal != nil && !m.Equal(l, r):
			res.Updated = append(res.Updated, r)
		}
	}

	if opts.AllowRemoval {
		removed := make(map[ID]struct{})
		for _, l := range local {
			id := m.ID(l)
			if _, ok := latest[id]; ok {
				continue
			}
			if _, dup := removed[id]; dup {
				continue
			}
			removed[id] = struct{}{}
			res.RemovedIDs = append(res.RemovedIDs, id)
		}
	}
	return res
}

// Apply returns local with res applied: removed ids dropped, updated
// entities replaced in place, added entities and links appended.
func (m Merger[T, ID]) Apply(local []T, res Result[T, ID]) []T {
	removed := make(map[ID]struct{}, len(res.RemovedIDs))
	for _, id := range res.RemovedIDs {
		removed[id] = struct{}{}
	}
	updated := make(map[ID]T, len(res.Updated))
	for _, u := range res.Updated {
		updated[m.ID(u)] = u
	}

	out := make([]T, 0, len(local)+len(res.Added)+len(res.AddedLinks))
	for _, l := range local {
		id := m.ID(l)
		if _, ok := removed[id]; ok {
			continue
		}
		if u, ok := updated[id]; ok {
			l = u
		}
		out = append(out, l)
	}
	out = append(out, res.Added...)
	out = append(out, res.AddedLinks...)
	return out
}
