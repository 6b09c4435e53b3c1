// Copyright 2025 James Ross
package reduce

import "math/big"

// Range is a contiguous sub-interval of the identifier space assigned to
// exactly one reduce worker. End is nil for the last range in a partition,
// meaning "no upper bound" so the final chunk never misses stragglers.
type Range struct {
	Start ID
	End   *ID
}

func (r Range) Open() bool { return r.End == nil }

// BuildRanges splits [min, max] inclusive into k equal-sized contiguous
// ranges. Range i's end equals range i+1's start, so the partition covers
// the identifier space with no overlap and no gap by construction, not by
// inspection of the data it will later match. For k=1 the result is a
// single open-ended range anchored at min. max<min yields no ranges.
func BuildRanges(min, max ID, k int) []Range {
	if max.Cmp(min) < 0 {
		return nil
	}
	if k <= 1 {
		return []Range{{Start: min, End: nil}}
	}

	span := idSpan(min, max)
	kBig := big.NewInt(int64(k))
	chunk := new(big.Int).Add(span, big.NewInt(int64(k-1)))
	chunk.Div(chunk, kBig)
	if chunk.Sign() == 0 {
		chunk = big.NewInt(1)
	}

	ranges := make([]Range, 0, k)
	cur := min
	for i := 0; i < k; i++ {
		if i == k-1 {
			ranges = append(ranges, Range{Start: cur, End: nil})
			break
		}
		next := cur.Add(chunk)
		end := next
		ranges = append(ranges, Range{Start: cur, End: &end})
		cur = next
	}
	return ranges
}
