package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time { return date(y, m, d) }

func TestIsoWeekEnds(t *testing.T) {
	tests := []struct {
		week, year int
		want       time.Time
	}{
		{1, 2024, day(2024, time.January, 7)},
		{10, 2024, day(2024, time.March, 10)},
		{1, 2021, day(2021, time.January, 10)},
		{1, 2015, day(2015, time.January, 4)},
		{53, 2020, day(2021, time.January, 3)},
	}
	for _, tt := range tests {
		got := IsoWeekEnds(tt.week, tt.year)
		assert.Equal(t, tt.want, got, "week %d of %d", tt.week, tt.year)
		assert.Equal(t, time.Sunday, got.Weekday())
		assert.Equal(t, time.Monday, IsoWeekStarts(tt.week, tt.year).Weekday())
	}
}

func TestIsoNormalize(t *testing.T) {
	assert.Equal(t, day(2024, time.March, 10), IsoNormalize(day(2024, time.March, 6)))
	assert.Equal(t, day(2024, time.March, 10), IsoNormalize(day(2024, time.March, 10)))
	assert.Equal(t, day(2015, time.January, 4), IsoNormalize(day(2014, time.December, 29)))
}

func TestIsoWeeksIn(t *testing.T) {
	assert.Equal(t, 53, IsoWeeksIn(2020))
	assert.Equal(t, 52, IsoWeeksIn(2021))
	assert.Equal(t, 53, IsoWeeksIn(2015))
}

func TestPeriodYear(t *testing.T) {
	// Friday of ISO week 42, 2026.
	today := IsoWeekEnds(42, 2026).AddDate(0, 0, -2)

	assert.Equal(t, 2026, PeriodYear(42, today))
	assert.Equal(t, 2026, PeriodYear(43, today))
	assert.Equal(t, 2025, PeriodYear(44, today))
	assert.Equal(t, IsoWeekEnds(50, 2025), PeriodEnds(50, today))
}

func TestParsePeriodSpec(t *testing.T) {
	for spec, want := range map[string]int{"w10": 10, "W1": 1, "w52": 52, " w7 ": 7} {
		n, err := ParsePeriodSpec(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, n, spec)
	}
	for _, spec := range []string{"", "w", "w0", "w53", "10", "wx", "x10"} {
		_, err := ParsePeriodSpec(spec)
		assert.Error(t, err, spec)
	}
}
