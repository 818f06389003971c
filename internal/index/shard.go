package index

// ChunkArray splits items into consecutive slices of at most size elements.
// Only the last slice may be shorter. An empty input gives an empty result.
func ChunkArray[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return [][]T{}
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

// ShardArray splits items into at most workers shards of ceil(len/workers)
// elements each.
func ShardArray[T any](items []T, workers int) [][]T {
	if len(items) == 0 {
		return [][]T{}
	}
	if workers <= 0 {
		workers = 1
	}
	size := (len(items) + workers - 1) / workers
	return ChunkArray(items, size)
}
