package distance

import (
	"time"

	"github.com/arya-analytics/mcpo/internal/node"
)

// Source provides the distance estimates the calculator works over.
type Source interface {
	// Host returns the ID of the local node.
	Host() node.ID
	// Distance returns the local estimate to the given peer.
	Distance(to node.ID) Value
	// Reported returns the estimate from one peer to another as last reported
	// by from in its heartbeats.
	Reported(from, to node.ID) Value
}

// Between returns the best estimate of the distance from a to b available at
// the host.
func Between(src Source, a, b node.ID) Value {
	if a == src.Host() {
		return src.Distance(b)
	}
	return src.Reported(a, b)
}

// Max returns the largest known distance from member to the other elements of
// set. Unknown samples are skipped; if none are known the result is Unknown.
func Max(src Source, member node.ID, set node.Group) Value {
	out := Unknown
	for _, other := range set {
		if other == member {
			continue
		}
		d := Between(src, member, other)
		if !d.Known() {
			continue
		}
		if !out.Known() || d.Duration() > out.Duration() {
			out = d
		}
	}
	return out
}

// Mean returns the average known distance from the host to the elements of
// set. It is zero when nothing is known.
func Mean(src Source, set node.Group) time.Duration {
	var (
		sum time.Duration
		n   int
	)
	for _, other := range set {
		if other == src.Host() {
			continue
		}
		if d, ok := src.Distance(other).Get(); ok {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// Center returns the member of set that minimizes Max, along with its score.
// Ties resolve to the earlier element. For a singleton set, or when no member
// has a known score, the first element is returned with an Unknown score. An
// empty set returns node.Unspecified.
func Center(src Source, set node.Group) (node.ID, Value) {
	if len(set) == 0 {
		return node.Unspecified, Unknown
	}
	center, score := set[0], Unknown
	if len(set) == 1 {
		return center, score
	}
	for _, member := range set {
		d := Max(src, member, set)
		if !d.Known() {
			continue
		}
		if !score.Known() || d.Duration() < score.Duration() {
			center, score = member, d
		}
	}
	return center, score
}

// Complete returns true if every pairwise distance inside set is known to the
// host.
func Complete(src Source, set node.Group) bool {
	for _, a := range set {
		for _, b := range set {
			if a != b && !Between(src, a, b).Known() {
				return false
			}
		}
	}
	return true
}

// Closest returns the element of candidates nearest to the host, skipping the
// host itself and unknown distances.
func Closest(src Source, candidates node.Group) (node.ID, Value) {
	best, score := node.Unspecified, Unknown
	for _, c := range candidates {
		if c == src.Host() {
			continue
		}
		d := src.Distance(c)
		if !d.Known() {
			continue
		}
		if !score.Known() || d.Duration() < score.Duration() {
			best, score = c, d
		}
	}
	return best, score
}
