// Package ranges implements an auto-merging set of half-open intervals.
package ranges

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrInvalidRanges = errors.New("ranges: invalid raw ranges")

// Range is the half-open interval [From, To).
type Range[T cmp.Ordered] struct {
	From T
	To   T
}

func (r Range[T]) String() string {
	return fmt.Sprintf("(%v, %v)", r.From, r.To)
}

// Vec keeps its ranges sorted by From, with no two ranges overlapping or touching.
type Vec[T cmp.Ordered] struct {
	data []Range[T]
}

func New[T cmp.Ordered]() *Vec[T] {
	return &Vec[T]{}
}

// FromRaw builds a Vec from ranges that already satisfy the Vec invariant.
func FromRaw[T cmp.Ordered](data []Range[T]) (*Vec[T], error) {
	for i, r := range data {
		if r.To <= r.From {
			return nil, fmt.Errorf("%w: empty range %v at %d", ErrInvalidRanges, r, i)
		}
		if i > 0 && r.From <= data[i-1].To {
			return nil, fmt.Errorf("%w: range %v at %d is not after %v", ErrInvalidRanges, r, i, data[i-1])
		}
	}
	return &Vec[T]{data: slices.Clone(data)}, nil
}

// Push adds [from, to) to the set, merging every range it overlaps or touches.
// It panics if to is not greater than from.
func (v *Vec[T]) Push(from, to T) {
	if to <= from {
		panic(fmt.Sprintf("ranges: invalid range (%v, %v)", from, to))
	}

	// insert tells if the result goes in as a new range at work, or replaces the range at work.
	insert := true
	idx, found := slices.BinarySearchFunc(v.data, from, func(r Range[T], t T) int {
		return cmp.Compare(r.From, t)
	})
	work, check := idx, idx

	if found {
		insert = false
		check = idx + 1
		to = max(to, v.data[idx].To)
	} else if idx > 0 {
		prev := v.data[idx-1]
		if from <= prev.To {
			insert = false
			from = prev.From
			work = idx - 1
			to = max(to, prev.To)
		}
	}

	drain := check
	for check < len(v.data) {
		next := v.data[check]
		if to < next.From {
			break
		}
		to = max(to, next.To)
		check++
		// The first absorbed range is overwritten in place instead of being drained.
		if insert {
			insert = false
			drain++
		}
	}

	if check > drain {
		v.data = slices.Delete(v.data, drain, check)
	}

	if insert {
		v.data = slices.Insert(v.data, work, Range[T]{From: from, To: to})
	} else {
		v.data[work] = Range[T]{From: from, To: to}
	}
}

// Contains reports whether value lies inside one of the ranges.
func (v *Vec[T]) Contains(value T) bool {
	_, found := v.search(value)
	return found
}

// Covers reports whether a single range covers all of [from, to).
func (v *Vec[T]) Covers(from, to T) bool {
	if to <= from {
		return true
	}
	idx, found := v.search(from)
	return found && v.data[idx].To >= to
}

// Missing returns the gaps of the set inside [from, to), in ascending order.
func (v *Vec[T]) Missing(from, to T) []Range[T] {
	var gaps []Range[T]
	cursor := from
	for _, r := range v.data {
		if cursor >= to {
			break
		}
		if r.To <= cursor {
			continue
		}
		if r.From > cursor {
			gaps = append(gaps, Range[T]{From: cursor, To: min(r.From, to)})
		}
		cursor = max(cursor, r.To)
	}
	if cursor < to {
		gaps = append(gaps, Range[T]{From: cursor, To: to})
	}
	return gaps
}

// Ranges returns a copy of the ranges.
func (v *Vec[T]) Ranges() []Range[T] {
	return slices.Clone(v.data)
}

func (v *Vec[T]) Len() int {
	return len(v.data)
}

func (v *Vec[T]) String() string {
	parts := make([]string, len(v.data))
	for i, r := range v.data {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (v *Vec[T]) search(value T) (int, bool) {
	return slices.BinarySearchFunc(v.data, value, func(r Range[T], t T) int {
		switch {
		case t < r.From:
			return 1
		case t >= r.To:
			return -1
		default:
			return 0
		}
	})
}
