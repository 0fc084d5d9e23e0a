package transit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/transit"
)

func TestNormalizeDirection(t *testing.T) {
	tests := []struct {
		token string
		want  transit.Direction
	}{
		{"n", transit.DirectionNorth},
		{"North", transit.DirectionNorth},
		{"northbound", transit.DirectionNorth},
		{"NORTHBOUND", transit.DirectionNorth},
		{" s ", transit.DirectionSouth},
		{"Southbound", transit.DirectionSouth},
		{"East", transit.DirectionEast},
		{"E", transit.DirectionEast},
		{"westbound", transit.DirectionWest},
		{"w", transit.DirectionWest},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := transit.NormalizeDirection(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeDirection_Invalid(t *testing.T) {
	for _, token := range []string{"Up", "", "NE", "both", "B"} {
		_, err := transit.NormalizeDirection(token)
		assert.ErrorIs(t, err, transit.ErrInvalidDirection, token)
	}
}

func TestIsIncident(t *testing.T) {
	assert.True(t, transit.IsIncident("Mechanical"))
	assert.True(t, transit.IsIncident("Road Blocked - NON-TTC Collision"))
	assert.True(t, transit.IsIncident("None"))
	assert.False(t, transit.IsIncident("mechanical"))
	assert.False(t, transit.IsIncident("Late Leaving Garage"))
	assert.Len(t, transit.Incidents(), 14)
}

func TestIsDelayed(t *testing.T) {
	assert.False(t, transit.IsDelayed(0))
	assert.False(t, transit.IsDelayed(3))
	assert.True(t, transit.IsDelayed(4))
}
