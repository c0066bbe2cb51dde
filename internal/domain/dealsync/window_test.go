package dealsync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitByCalendarYear(t *testing.T) {
	windows, err := SplitByCalendarYear(date(2020, 3, 15), time.Date(2024, 2, 1, 17, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, windows, 5)

	got := make([]string, 0, len(windows))
	for _, w := range windows {
		got = append(got, w.String())
		assert.True(t, w.End.Sub(w.Start) < 366*24*time.Hour, "window %s exceeds a year", w)
	}
	assert.Equal(t, []string{
		"2020-03-15..2020-12-31",
		"2021-01-01..2021-12-31",
		"2022-01-01..2022-12-31",
		"2023-01-01..2023-12-31",
		"2024-01-01..2024-02-01",
	}, got)
}

func TestSplitByCalendarYear_SingleDay(t *testing.T) {
	windows, err := SplitByCalendarYear(date(2024, 5, 1), date(2024, 5, 1))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "2024-05-01", windows[0].StartDate())
	assert.Equal(t, "2024-05-01", windows[0].EndDate())
	assert.Equal(t, 2024, windows[0].Year())
}

func TestSplitByCalendarYear_Inverted(t *testing.T) {
	_, err := SplitByCalendarYear(date(2024, 5, 2), date(2024, 5, 1))
	assert.True(t, errors.Is(err, ErrInvalidWindow))
}

func TestEffectiveWindow(t *testing.T) {
	epoch := date(2000, 1, 1)
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	last := time.Date(2024, 6, 5, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		req       WindowRequest
		last      *time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "no watermark starts at epoch",
			req:       WindowRequest{Epoch: epoch},
			wantStart: epoch,
			wantEnd:   date(2024, 6, 10),
		},
		{
			name:      "watermark minus 24h",
			req:       WindowRequest{Epoch: epoch},
			last:      &last,
			wantStart: date(2024, 6, 4),
			wantEnd:   date(2024, 6, 10),
		},
		{
			name:      "requested start earlier than watermark wins",
			req:       WindowRequest{Epoch: epoch, Start: date(2024, 1, 1)},
			last:      &last,
			wantStart: date(2024, 1, 1),
			wantEnd:   date(2024, 6, 10),
		},
		{
			name:      "requested start later than watermark never moves start later",
			req:       WindowRequest{Epoch: epoch, Start: date(2024, 6, 8)},
			last:      &last,
			wantStart: date(2024, 6, 4),
			wantEnd:   date(2024, 6, 10),
		},
		{
			name:      "full sync ignores watermark",
			req:       WindowRequest{Epoch: epoch, FullSync: true},
			last:      &last,
			wantStart: epoch,
			wantEnd:   date(2024, 6, 10),
		},
		{
			name:      "full sync with requested range",
			req:       WindowRequest{Epoch: epoch, FullSync: true, Start: date(2022, 1, 1), End: date(2022, 12, 31)},
			last:      &last,
			wantStart: date(2022, 1, 1),
			wantEnd:   date(2022, 12, 31),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := EffectiveWindow(tt.req, tt.last, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, tt.wantEnd, w.End)
		})
	}
}

func TestEffectiveWindow_EndBeforeStart(t *testing.T) {
	_, err := EffectiveWindow(WindowRequest{Epoch: date(2000, 1, 1), End: date(1999, 1, 1)}, nil, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidWindow))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 29), d)

	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)
}
