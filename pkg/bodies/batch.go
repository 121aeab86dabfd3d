package bodies

// Dedupe returns batch with only the last occurrence of each id, keeping
// the relative order of the survivors. The input is returned unchanged when
// it holds no duplicates.
func Dedupe(batch []*WriteItem) []*WriteItem {
	last := make(map[string]int, len(batch))
	for i, item := range batch {
		last[item.ID()] = i
	}
	if len(last) == len(batch) {
		return batch
	}

	items := make([]*WriteItem, 0, len(last))
	for i, item := range batch {
		if last[item.ID()] == i {
			items = append(items, item)
		}
	}
	return items
}

// IDs returns the ids of batch in order.
func IDs(batch []*WriteItem) []string {
	ids := make([]string, len(batch))
	for i, item := range batch {
		ids[i] = item.ID()
	}
	return ids
}
