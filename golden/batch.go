package golden

import "iter"

// Batches yields contiguous sub-slices of items with at most size elements
// each, in order, including the trailing partial batch. The yielded slices
// alias the input and must not be retained across iterations by callers that
// mutate items. size must be > 0; a non-positive size yields nothing.
func Batches(items []string, size int) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		if size <= 0 {
			return
		}
		for start := 0; start < len(items); start += size {
			end := start + size
			if end > len(items) {
				end = len(items)
			}
			if !yield(items[start:end]) {
				return
			}
		}
	}
}
