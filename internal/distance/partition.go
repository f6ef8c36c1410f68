package distance

import "github.com/arya-analytics/mcpo/internal/node"

// Partition is a two-way split of a cluster along with the elected center of
// each side.
type Partition struct {
	First, Second             node.Group
	FirstCenter, SecondCenter node.ID
}

// Side returns the subset containing id along with its center.
func (p Partition) Side(id node.ID) (node.Group, node.ID) {
	if p.First.Contains(id) {
		return p.First, p.FirstCenter
	}
	return p.Second, p.SecondCenter
}

// Other returns the subset not containing id along with its center.
func (p Partition) Other(id node.ID) (node.Group, node.ID) {
	if p.First.Contains(id) {
		return p.Second, p.SecondCenter
	}
	return p.First, p.FirstCenter
}

// MaxExhaustive is the largest cluster Split searches exhaustively. Beyond it
// the number of balanced subsets grows past what one maintenance pass can
// afford.
const MaxExhaustive = 16

// Split divides members into two subsets. When the cluster holds fewer than
// exhaustiveBelow and at most MaxExhaustive members every floor(n/2)-subset is
// evaluated and the partition minimizing the larger of the two center scores
// wins. Larger clusters, or clusters with no partition whose scores are both
// known, are split positionally in half.
func Split(src Source, members node.Group, exhaustiveBelow int) Partition {
	if len(members) < exhaustiveBelow && len(members) <= MaxExhaustive {
		if p, ok := bestPartition(src, members); ok {
			return p
		}
	}
	return halve(src, members)
}

func halve(src Source, members node.Group) Partition {
	mid := len(members) / 2
	p := Partition{First: members[:mid].Copy(), Second: members[mid:].Copy()}
	p.FirstCenter, _ = Center(src, p.First)
	p.SecondCenter, _ = Center(src, p.Second)
	return p
}

func bestPartition(src Source, members node.Group) (best Partition, found bool) {
	var bestScore Value
	half := len(members) / 2
	Combinations(len(members), half, func(picked []bool) {
		var p Partition
		for i, m := range members {
			if picked[i] {
				p.First = append(p.First, m)
			} else {
				p.Second = append(p.Second, m)
			}
		}
		var s1, s2 Value
		p.FirstCenter, s1 = Center(src, p.First)
		p.SecondCenter, s2 = Center(src, p.Second)
		if !s1.Known() || !s2.Known() {
			return
		}
		score := s1
		if s2.Duration() > score.Duration() {
			score = s2
		}
		if !found || score.Duration() < bestScore.Duration() {
			best, bestScore, found = p, score, true
		}
	})
	return best, found
}

// Combinations calls f once for every way of choosing k of n positions. The
// slice passed to f is reused between calls.
func Combinations(n, k int, f func(picked []bool)) {
	if k < 0 || k > n {
		return
	}
	picked := make([]bool, n)
	var rec func(start, remaining int)
	rec = func(start, remaining int) {
		if remaining == 0 {
			f(picked)
			return
		}
		for i := start; i <= n-remaining; i++ {
			picked[i] = true
			rec(i+1, remaining-1)
			picked[i] = false
		}
	}
	rec(0, k)
}
