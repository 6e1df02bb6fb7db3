// Package query implements remote queries over a store: plain snapshot
// queries and windowed queries with preemptive local updates reconciled
// against server deltas.
package query

import "sort"

// Update describes one transition of an ordered id list.
//
// Removals are expressed in the coordinate space of the list BEFORE the
// update, additions in the space of the list AFTER it. Both index slices
// are sorted ascending and parallel to their id slices.
type Update struct {
	RemovedIndexes []int
	RemovedIDs     []string
	AddedIndexes   []int
	AddedIDs       []string

	// Truncated marks an update that cut the list short; Length is the
	// resulting list length.
	Truncated bool
	Length    int
}

// IsEmpty reports whether the update changes nothing.
func (u *Update) IsEmpty() bool {
	return len(u.RemovedIndexes) == 0 && len(u.AddedIndexes) == 0 && !u.Truncated
}

// Clone returns a deep copy.
func (u *Update) Clone() *Update {
	return &Update{
		RemovedIndexes: append([]int(nil), u.RemovedIndexes...),
		RemovedIDs:     append([]string(nil), u.RemovedIDs...),
		AddedIndexes:   append([]int(nil), u.AddedIndexes...),
		AddedIDs:       append([]string(nil), u.AddedIDs...),
		Truncated:      u.Truncated,
		Length:         u.Length,
	}
}

// Invert returns the update that undoes u: additions become removals at
// the same post-list positions and vice versa.
func (u *Update) Invert() *Update {
	return &Update{
		RemovedIndexes: append([]int(nil), u.AddedIndexes...),
		RemovedIDs:     append([]string(nil), u.AddedIDs...),
		AddedIndexes:   append([]int(nil), u.RemovedIndexes...),
		AddedIDs:       append([]string(nil), u.RemovedIDs...),
		Length:         u.Length + len(u.RemovedIndexes) - len(u.AddedIndexes),
	}
}

// Apply transforms ids by u and returns the new list. Removals run
// high-to-low so earlier indexes stay valid, then additions low-to-high.
func (u *Update) Apply(ids []string) []string {
	out := append([]string(nil), ids...)
	for i := len(u.RemovedIndexes) - 1; i >= 0; i-- {
		idx := u.RemovedIndexes[i]
		if idx < 0 || idx >= len(out) {
			continue
		}
		out = append(out[:idx], out[idx+1:]...)
	}
	for i, idx := range u.AddedIndexes {
		if idx < 0 || idx > len(out) {
			idx = len(out)
		}
		out = append(out, "")
		copy(out[idx+1:], out[idx:])
		out[idx] = u.AddedIDs[i]
	}
	return out
}

type pair struct {
	index int
	id    string
}

func toPairs(indexes []int, ids []string) []pair {
	out := make([]pair, len(indexes))
	for i := range indexes {
		out[i] = pair{indexes[i], ids[i]}
	}
	return out
}

func fromPairs(pairs []pair) ([]int, []string) {
	if len(pairs) == 0 {
		return nil, nil
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].index < pairs[j].index })
	indexes := make([]int, len(pairs))
	ids := make([]string, len(pairs))
	for i, p := range pairs {
		indexes[i] = p.index
		ids[i] = p.id
	}
	return indexes, ids
}

// Compose combines two consecutive updates into one whose effect equals
// applying u then v.
//
// A v-removal that hits the exact position and id of a u-addition cancels
// it: the element came and went within the composed step and appears in
// neither side of the result. Surviving v-removals are translated from
// u's post-list space back to u's pre-list space; surviving u-additions
// forward into v's post-list space.
func Compose(u, v *Update) *Update {
	addsU := toPairs(u.AddedIndexes, u.AddedIDs)
	removesV := toPairs(v.RemovedIndexes, v.RemovedIDs)

	cancelledU := make([]bool, len(addsU))
	cancelledV := make([]bool, len(removesV))
	for i, r := range removesV {
		for j, a := range addsU {
			if !cancelledU[j] && a.index == r.index && a.id == r.id {
				cancelledU[j] = true
				cancelledV[i] = true
				break
			}
		}
	}

	// Translate surviving v-removals into u's pre-list coordinates: drop
	// the offset contributed by u's additions below them, then re-add the
	// slots u's removals vacated.
	var composedRemoves []pair
	for i, r := range removesV {
		if cancelledV[i] {
			continue
		}
		idx := r.index
		for _, a := range addsU {
			if a.index < r.index {
				idx--
			}
		}
		for _, rem := range u.RemovedIndexes {
			if rem <= idx {
				idx++
			}
		}
		composedRemoves = append(composedRemoves, pair{idx, r.id})
	}
	composedRemoves = append(composedRemoves, toPairs(u.RemovedIndexes, u.RemovedIDs)...)

	// Translate surviving u-additions into v's post-list coordinates:
	// drop the offset of v's removals below them, then re-add the slots
	// v's additions occupy.
	var composedAdds []pair
	for j, a := range addsU {
		if cancelledU[j] {
			continue
		}
		pos := a.index
		for _, rem := range v.RemovedIndexes {
			if rem < a.index {
				pos--
			}
		}
		for _, add := range v.AddedIndexes {
			if add <= pos {
				pos++
			}
		}
		composedAdds = append(composedAdds, pair{pos, a.id})
	}
	composedAdds = append(composedAdds, toPairs(v.AddedIndexes, v.AddedIDs)...)

	out := &Update{
		Truncated: u.Truncated || v.Truncated,
		Length:    v.Length,
	}
	out.RemovedIndexes, out.RemovedIDs = fromPairs(composedRemoves)
	out.AddedIndexes, out.AddedIDs = fromPairs(composedAdds)
	return out
}

// ComposeAll folds a sequence of updates left to right. Returns an empty
// update for an empty sequence.
func ComposeAll(updates []*Update) *Update {
	if len(updates) == 0 {
		return &Update{}
	}
	out := updates[0].Clone()
	for _, u := range updates[1:] {
		out = Compose(out, u)
	}
	return out
}
