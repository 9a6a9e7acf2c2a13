package daterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeInput(t *testing.T) {
	cases := []struct {
		in    string
		isEnd bool
		want  string
	}{
		{"2025-09-13", false, "2025-09-13 00:00"},
		{"2025-09-13", true, "2025-09-13 23:59"},
		{"2025-02", false, "2025-02-01 00:00"},
		{"2025-02", true, "2025-02-28 23:59"},
		{"2024-02", true, "2024-02-29 23:59"},
		{"2025-09-13 10:30", true, "2025-09-13 10:30"},
		{"yesterday", false, "yesterday"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeInput(tc.in, tc.isEnd), tc.in)
	}
}

func TestComputeMissing(t *testing.T) {
	t.Run("nothing stored", func(t *testing.T) {
		got := ComputeMissing("2025-01-01 00:00", "2025-01-31 23:59", DataRange{})
		require.Equal(t, &Range{Start: "2025-01-01 00:00", End: "2025-01-31 23:59"}, got)
	})

	t.Run("trailing gap", func(t *testing.T) {
		got := ComputeMissing("2025-01-01 00:00", "2025-01-31 23:59",
			DataRange{From: "2025-01-01 00:00", To: "2025-01-15 12:00"})
		require.Equal(t, &Range{Start: "2025-01-15 12:01", End: "2025-01-31 23:59"}, got)
	})

	t.Run("trailing gap clamps to requested start", func(t *testing.T) {
		got := ComputeMissing("2025-02-01 00:00", "2025-02-10 23:59",
			DataRange{From: "2024-12-01 00:00", To: "2025-01-15 12:00:00"})
		require.Equal(t, &Range{Start: "2025-02-01 00:00", End: "2025-02-10 23:59"}, got)
	})

	t.Run("leading gap", func(t *testing.T) {
		got := ComputeMissing("2025-01-01 00:00", "2025-01-31 23:59",
			DataRange{From: "2025-01-10 08:00:00", To: "2025-02-02 00:00:00"})
		require.Equal(t, &Range{Start: "2025-01-01 00:00", End: "2025-01-10 07:59"}, got)
	})

	t.Run("covered", func(t *testing.T) {
		got := ComputeMissing("2025-01-01 00:00", "2025-01-31 23:59",
			DataRange{From: "2024-12-31 00:00", To: "2025-02-01 00:00"})
		require.Nil(t, got)
	})
}

func TestMonthlyChunks(t *testing.T) {
	chunks := MonthlyChunks("2025-01-15 00:00", "2025-03-10 23:59")
	require.Equal(t, []Range{
		{Start: "2025-01-15 00:00", End: "2025-01-31 23:59"},
		{Start: "2025-02-01 00:00", End: "2025-02-28 23:59"},
		{Start: "2025-03-01 00:00", End: "2025-03-10 23:59"},
	}, chunks)

	require.Len(t, MonthlyChunks("2025-01-15 00:00", "2025-01-20 00:00"), 1)
	require.Empty(t, MonthlyChunks("2025-03-01 00:00", "2025-01-01 00:00"))
}

func TestRangeKeyAndOverlap(t *testing.T) {
	r := Normalize("2025-01-01", "2025-01-31")
	require.Equal(t, "range:2025-01-01 00:00:2025-01-31 23:59", r.Key())
	require.True(t, r.Overlaps(Range{Start: "2025-01-31 00:00", End: "2025-02-10 00:00"}))
	require.False(t, r.Overlaps(Range{Start: "2025-02-01 00:00", End: "2025-02-10 00:00"}))
}

func TestAddMinutes(t *testing.T) {
	v, err := AddMinutes("2025-01-31 23:59:30", 1)
	require.NoError(t, err)
	require.Equal(t, "2025-02-01 00:00", v)

	_, err = AddMinutes("garbage", 1)
	require.Error(t, err)

	v, err = IncrementalFrom("2025-01-15 12:00:00")
	require.NoError(t, err)
	require.Equal(t, "2025-01-15 12:01", v)
}

func TestZonesToDisplay(t *testing.T) {
	z := Zones{Source: time.FixedZone("CST", 8*3600), Display: time.FixedZone("ICT", 7*3600)}
	require.Equal(t, "2025-01-01 09:00:00", z.ToDisplay("2025-01-01 10:00:00"))
	require.Equal(t, "n/a", z.ToDisplay("n/a"))
	require.Equal(t, "2025-01-01 10:00", z.At(time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)))
}
