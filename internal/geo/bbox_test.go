package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geo-catalog/internal/model"
)

func TestBBoxValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		box     BBox
		wantErr string
	}{
		{"world", World, ""},
		{"antimeridian", BBox{West: 170, South: -10, East: -170, North: 10}, ""},
		{"degenerate line", BBox{West: 5, South: 5, East: 5, North: 5}, ""},
		{"north below south", BBox{West: 0, South: 10, East: 1, North: 5}, "north"},
		{"west out of range", BBox{West: -181, South: 0, East: 0, North: 1}, "longitudes"},
		{"north out of range", BBox{West: 0, South: 0, East: 1, North: 91}, "latitudes"},
		{"nan", BBox{West: math.NaN(), South: 0, East: 1, North: 1}, "finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.box.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBBoxSplit(t *testing.T) {
	plain := BBox{West: -10, South: -5, East: 10, North: 5}
	assert.Equal(t, []BBox{plain}, plain.Split())

	wrap := BBox{West: 170, South: -5, East: -170, North: 5}
	require.True(t, wrap.CrossesAntimeridian())
	assert.Equal(t, []BBox{
		{West: 170, South: -5, East: 180, North: 5},
		{West: -180, South: -5, East: -170, North: 5},
	}, wrap.Split())
}

func TestBBoxContains_Antimeridian(t *testing.T) {
	box := BBox{West: 170, South: -90, East: -170, North: 90}

	assert.True(t, box.Contains(model.Point{Longitude: 179, Latitude: 0}))
	assert.True(t, box.Contains(model.Point{Longitude: -179, Latitude: 0}))
	assert.True(t, box.Contains(model.Point{Longitude: 180, Latitude: 0}))
	assert.True(t, box.Contains(model.Point{Longitude: -180, Latitude: 0}))
	assert.False(t, box.Contains(model.Point{Longitude: 0, Latitude: 0}))
	assert.False(t, box.Contains(model.Point{Longitude: 169.9, Latitude: 0}))
}

func TestBBoxContains_EdgesInclusive(t *testing.T) {
	box := BBox{West: -1, South: -1, East: 1, North: 1}
	assert.True(t, box.Contains(model.Point{Longitude: 1, Latitude: -1}))
	assert.False(t, box.Contains(model.Point{Longitude: 1.0001, Latitude: 0}))
	assert.False(t, box.Contains(model.Point{Longitude: 0, Latitude: 1.0001}))
}

func TestWorldContainsEverything(t *testing.T) {
	for _, p := range []model.Point{{Longitude: -180, Latitude: -90}, {Longitude: 180, Latitude: 90}, {Longitude: 0, Latitude: 0}, {Longitude: -122.26, Latitude: 37.87}} {
		assert.True(t, World.Contains(p), "%v", p)
	}
}

func TestExtent(t *testing.T) {
	_, ok := Extent(nil)
	assert.False(t, ok)

	box, ok := Extent([]model.Point{
		{Longitude: -122.3, Latitude: 37.9},
		{Longitude: -106.9, Latitude: 38.9},
		{Longitude: 10.1, Latitude: -3.2},
	})
	require.True(t, ok)
	assert.Equal(t, BBox{West: -122.3, South: -3.2, East: 10.1, North: 38.9}, box)
}
