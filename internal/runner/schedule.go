package runner

import "sort"

// FileBatchSize bounds how many files enter one matching batch. Small
// tenders take a single batch; wide ones are chunked so cooldowns between
// batches keep the CPU from pinning for minutes at a time.
func FileBatchSize(workers, totalFiles int) int {
	size := 2 * workers
	if size > 10 {
		size = 10
	}
	if size > totalFiles {
		size = totalFiles
	}
	if size < 1 {
		size = 1
	}
	return size
}

// PrefetchDepth is how many tenders' documents are acquired ahead of the
// one currently being matched.
func PrefetchDepth(workers int) int {
	depth := workers / 2
	if depth < 1 {
		depth = 1
	}
	return depth
}

// sortBySizeAscending orders work smallest first, so quick tenders produce
// results early in the run and a huge archive cannot stall everything at
// the start.
func sortBySizeAscending[T any](items []T, size func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool {
		return size(items[i]) < size(items[j])
	})
}
