package query

// DiffIDLists computes the Update that turns old into next by id
// membership: removals are old positions of ids absent from next,
// additions are next positions of ids absent from old. Surviving ids
// that merely shift position generate no churn, so the event payload
// stays minimal for the common remove/insert cases.
func DiffIDLists(old, next []string) *Update {
	inOld := make(map[string]bool, len(old))
	for _, id := range old {
		inOld[id] = true
	}
	inNext := make(map[string]bool, len(next))
	for _, id := range next {
		inNext[id] = true
	}

	u := &Update{Length: len(next)}
	for i, id := range old {
		if !inNext[id] {
			u.RemovedIndexes = append(u.RemovedIndexes, i)
			u.RemovedIDs = append(u.RemovedIDs, id)
		}
	}
	for i, id := range next {
		if !inOld[id] {
			u.AddedIndexes = append(u.AddedIndexes, i)
			u.AddedIDs = append(u.AddedIDs, id)
		}
	}
	return u
}
