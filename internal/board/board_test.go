package board

import (
	"errors"
	"testing"

	"github.com/power4-engine/internal/domain"
	"github.com/stretchr/testify/assert"
)

var classic = Dimensions{Rows: 6, Cols: 7}

func TestValidate(t *testing.T) {
	tests := []struct {
		name                string
		column, row, height int
		wantErr             bool
	}{
		{"bottom of empty column", 3, 0, 0, false},
		{"stacked", 0, 4, 4, false},
		{"last slot", 6, 5, 5, false},
		{"negative column", -1, 0, 0, true},
		{"column past edge", 7, 0, 0, true},
		{"column full", 2, 6, 6, true},
		{"row below height", 2, 1, 2, true},
		{"row above height", 2, 3, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.column, tt.row, tt.height, classic)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrInvalidPlacement), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDimensionsValidate(t *testing.T) {
	assert.NoError(t, classic.Validate())
	assert.ErrorIs(t, Dimensions{Rows: 3, Cols: 7}.Validate(), domain.ErrInvalidRequest)
	assert.ErrorIs(t, Dimensions{Rows: 6, Cols: 21}.Validate(), domain.ErrInvalidRequest)
}

func TestGridDetectsLines(t *testing.T) {
	t.Run("vertical", func(t *testing.T) {
		g := NewGrid(classic)
		var row int
		for i := 0; i < 4; i++ {
			row = g.Drop(2, 1)
		}
		assert.Equal(t, 3, row)
		assert.True(t, g.ConnectsFour(row, 2))
	})

	t.Run("horizontal", func(t *testing.T) {
		g := NewGrid(classic)
		for c := 0; c < 3; c++ {
			g.Drop(c, 1)
		}
		assert.False(t, g.ConnectsFour(0, 2))
		row := g.Drop(3, 1)
		assert.True(t, g.ConnectsFour(row, 3))
	})

	t.Run("diagonal", func(t *testing.T) {
		g := NewGrid(classic)
		// staircase for player 1 on (0,0) (1,1) (2,2) (3,3)
		for c := 1; c < 4; c++ {
			for i := 0; i < c; i++ {
				g.Drop(c, 2)
			}
		}
		for c := 0; c < 4; c++ {
			g.Drop(c, 1)
		}
		assert.True(t, g.ConnectsFour(3, 3))
		assert.True(t, g.ConnectsFour(0, 0))
	})

	t.Run("three is not enough", func(t *testing.T) {
		g := NewGrid(classic)
		g.Drop(0, 1)
		g.Drop(0, 1)
		row := g.Drop(0, 1)
		g.Drop(0, 2)
		assert.False(t, g.ConnectsFour(row, 0))
	})
}

func TestGridFull(t *testing.T) {
	g := NewGrid(Dimensions{Rows: 4, Cols: 4})
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			assert.False(t, g.Full())
			g.Drop(c, int64(1+(r+c)%2))
		}
	}
	assert.True(t, g.Full())
}
