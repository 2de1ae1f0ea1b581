package models

import "sort"

func sortBySequence[T any](items []T, key func(T) (int, int)) {
	sort.SliceStable(items, func(i, j int) bool {
		si, ii := key(items[i])
		sj, ij := key(items[j])
		if si != sj {
			return si < sj
		}
		return ii < ij
	})
}
