// Copyright 2025 James Ross
package reduce

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, hex string) ID {
	t.Helper()
	id, err := ParseID(hex)
	require.NoError(t, err)
	return id
}

func TestBuildRangesCoversWithNoGapOrOverlap(t *testing.T) {
	min := mustID(t, "000000000000000000000000")
	max := mustID(t, "0000000000000000000000ff")

	ranges := BuildRanges(min, max, 4)
	require.Len(t, ranges, 4)
	require.Equal(t, 0, ranges[0].Start.Cmp(min))
	require.True(t, ranges[len(ranges)-1].Open())

	for i := 0; i < len(ranges)-1; i++ {
		require.NotNil(t, ranges[i].End)
		require.Equal(t, 0, ranges[i].End.Cmp(ranges[i+1].Start))
	}
}

func TestBuildRangesSingleChunkIsOpenEnded(t *testing.T) {
	min := mustID(t, "000000000000000000000001")
	max := mustID(t, "000000000000000000000fff")

	ranges := BuildRanges(min, max, 1)
	require.Len(t, ranges, 1)
	require.Equal(t, 0, ranges[0].Start.Cmp(min))
	require.True(t, ranges[0].Open())
}

func TestBuildRangesMaxLessThanMinIsEmpty(t *testing.T) {
	min := mustID(t, "000000000000000000000fff")
	max := mustID(t, "000000000000000000000001")

	require.Empty(t, BuildRanges(min, max, 4))
}

func TestBuildRangesMoreChunksThanSpanStillCoversAndTerminates(t *testing.T) {
	min := mustID(t, "000000000000000000000000")
	max := mustID(t, "000000000000000000000002")

	ranges := BuildRanges(min, max, 16)
	require.Len(t, ranges, 16)
	require.True(t, ranges[len(ranges)-1].Open())
}

func TestIDRoundTripsThroughObjectID(t *testing.T) {
	const hex = "507f1f77bcf86cd799439011"
	id := mustID(t, hex)
	require.Equal(t, hex, id.ObjectID().Hex())
}
