package features_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitx/transitx/internal/features"
)

func TestExtractTime(t *testing.T) {
	at := time.Date(2024, time.July, 15, 8, 30, 0, 0, time.UTC)

	tf := features.ExtractTime(at)

	assert.Equal(t, 8, tf.Hour)
	assert.Equal(t, 7, tf.Month)
	assert.Equal(t, "Monday", tf.DayOfWeek)
	assert.True(t, tf.RushHour)
	assert.False(t, tf.IsWeekend)
}

func TestExtractTime_Weekend(t *testing.T) {
	at := time.Date(2024, time.July, 13, 23, 0, 0, 0, time.UTC)

	tf := features.ExtractTime(at)

	assert.Equal(t, "Saturday", tf.DayOfWeek)
	assert.True(t, tf.IsWeekend)
	assert.False(t, tf.RushHour)
}

func TestIsRushHour(t *testing.T) {
	rush := map[int]bool{7: true, 8: true, 9: true, 16: true, 17: true, 18: true}
	for hour := 0; hour < 24; hour++ {
		assert.Equal(t, rush[hour], features.IsRushHour(hour), "hour %d", hour)
	}
}

func TestIsWeekend(t *testing.T) {
	tests := []struct {
		day  string
		want bool
	}{
		{"Saturday", true},
		{"sunday", true},
		{"SUNDAY", true},
		{" Saturday ", true},
		{"Friday", false},
		{"monday", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.day, func(t *testing.T) {
			assert.Equal(t, tt.want, features.IsWeekend(tt.day))
		})
	}
}
