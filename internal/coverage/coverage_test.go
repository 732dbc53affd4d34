package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMerge_CommutativeAssociative tests that merge order never matters.
func TestMerge_CommutativeAssociative(t *testing.T) {
	a := Report{"parse@p.c:10": 3, "init@p.c:2": 1}
	b := Report{"parse@p.c:10": 2, "free@p.c:40": 7}
	c := Report{"init@p.c:2": 5}

	assert.Equal(t, Merge(a, b), Merge(b, a))
	assert.Equal(t, Merge(Merge(a, b), c), Merge(a, Merge(b, c)))
	assert.Equal(t, Merge(a, b, c), Merge(c, b, a))
	assert.Equal(t, uint64(5), Merge(a, b)["parse@p.c:10"])
	assert.Equal(t, uint64(3), a["parse@p.c:10"], "inputs untouched")
}

// TestAggregator_MergeOrderIndependent tests the cumulative map across orders.
func TestAggregator_MergeOrderIndependent(t *testing.T) {
	reports := []Report{
		{"a@x.c:1": 1},
		{"b@x.c:2": 4, "a@x.c:1": 2},
		{"c@y.c:9": 1},
	}

	forward := NewAggregator()
	for _, r := range reports {
		forward.Merge(r)
	}
	backward := NewAggregator()
	for i := len(reports) - 1; i >= 0; i-- {
		backward.Merge(reports[i])
	}

	assert.Equal(t, forward.Snapshot(), backward.Snapshot())
	assert.Equal(t, 3, forward.Merges())
	assert.Equal(t, 3, forward.Len())
}

// TestAggregator_Delta tests that deltas contain only unseen locations.
func TestAggregator_Delta(t *testing.T) {
	agg := NewAggregator()

	delta := agg.Merge(Report{"a@x.c:1": 1})
	assert.Equal(t, Report{"a@x.c:1": 1}, delta)

	delta = agg.Merge(Report{"a@x.c:1": 9, "b@x.c:2": 1})
	assert.Equal(t, Report{"b@x.c:2": 1}, delta)

	delta = agg.Merge(Report{"a@x.c:1": 1})
	assert.Empty(t, delta)

	assert.Equal(t, uint64(11), agg.FunctionHits("a"))
	assert.True(t, agg.Covered("b"))
	assert.False(t, agg.Covered("c"))
}

// TestNextStreak_PlateauOnNth tests that N identical reports plateau on the Nth.
func TestNextStreak_PlateauOnNth(t *testing.T) {
	const threshold = 3
	agg := NewAggregator()
	report := Report{"parse@p.c:10": 4}

	streak := 0
	for i := 1; i <= threshold; i++ {
		streak = NextStreak(streak, agg.Merge(report))
		if i < threshold {
			assert.False(t, Plateaued(streak, threshold), "run %d must not plateau", i)
		}
	}
	assert.True(t, Plateaued(streak, threshold))
	assert.Equal(t, threshold, streak)
}

// TestNextStreak_ResetsOnGain tests that new coverage restarts the streak.
func TestNextStreak_ResetsOnGain(t *testing.T) {
	assert.Equal(t, 1, NextStreak(0, nil))
	assert.Equal(t, 3, NextStreak(2, Report{}))
	assert.Equal(t, 1, NextStreak(5, Report{"x@y.c:1": 1}))
	assert.False(t, Plateaued(100, 0))
}

// TestFunctionOf tests location parsing.
func TestFunctionOf(t *testing.T) {
	assert.Equal(t, "parse", FunctionOf(Location("parse", "src/p.c", 10)))
	assert.Equal(t, "ns::f(int)", FunctionOf("ns::f(int)@a.cc:3"))
	assert.Equal(t, "bare", FunctionOf("bare"))

	r := Report{"f@a.c:1": 2, "f@a.c:9": 3, "g@a.c:20": 1}
	assert.Equal(t, map[string]uint64{"f": 5, "g": 1}, r.Functions())
	assert.Equal(t, []string{"f@a.c:1", "f@a.c:9", "g@a.c:20"}, r.Locations())
	assert.Equal(t, uint64(6), r.Total())
}

// TestEncodeDecode tests the msgpack codec used by the artifact index.
func TestEncodeDecode(t *testing.T) {
	in := Report{"parse@p.c:10": 1 << 40, "init@p.c:2": 0}

	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty, err := Encode(nil)
	require.NoError(t, err)
	decoded, err := Decode(empty)
	require.NoError(t, err)
	assert.NotNil(t, decoded)
	assert.Empty(t, decoded)

	_, err = Decode([]byte{0xc1})
	assert.Error(t, err)
}
