package node

// Group is an ordered collection of node IDs. Order is insertion order and is
// significant: center election breaks ties by it.
type Group []ID

// Contains returns true if id is an element of the group.
func (g Group) Contains(id ID) bool { return g.Index(id) >= 0 }

// Index returns the position of id in the group, or -1.
func (g Group) Index(id ID) int {
	for i, o := range g {
		if o == id {
			return i
		}
	}
	return -1
}

// WhereNot returns a copy of the group without the given ids.
func (g Group) WhereNot(ids ...ID) Group {
	return g.Where(func(id ID) bool { return !Group(ids).Contains(id) })
}

// Where returns a copy of the group holding the elements that satisfy filter.
func (g Group) Where(filter func(ID) bool) Group {
	out := make(Group, 0, len(g))
	for _, id := range g {
		if filter(id) {
			out = append(out, id)
		}
	}
	return out
}

// Union appends the elements of other that are not already present.
func (g Group) Union(other ...ID) Group {
	out := g.Copy()
	for _, id := range other {
		if !id.IsZero() && !out.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Copy returns a shallow copy of the group that never aliases g.
func (g Group) Copy() Group {
	out := make(Group, len(g))
	copy(out, g)
	return out
}

// Equal returns true if both groups hold the same set of IDs regardless of
// order.
func (g Group) Equal(other Group) bool {
	if len(g) != len(other) {
		return false
	}
	for _, id := range g {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}
