// Package board holds the pure rules of the grid: gravity-consistent
// placement and four-in-a-row detection. Row 0 is the bottom row.
package board

import (
	"fmt"

	"github.com/power4-engine/internal/domain"
)

// Board size limits accepted when creating a game.
const (
	MinSize = 4
	MaxSize = 20
)

// Dimensions is the size of a board
type Dimensions struct {
	Rows int
	Cols int
}

// Validate checks the dimensions against MinSize and MaxSize.
func (d Dimensions) Validate() error {
	if d.Rows < MinSize || d.Rows > MaxSize || d.Cols < MinSize || d.Cols > MaxSize {
		return fmt.Errorf("%w: board %dx%d outside %d..%d", domain.ErrInvalidRequest, d.Rows, d.Cols, MinSize, MaxSize)
	}
	return nil
}

// Validate accepts a placement in column at claimedRow when height discs
// already occupy that column. It never trusts claimedRow: the only legal row is
// the current height.
func Validate(column, claimedRow, height int, dims Dimensions) error {
	if column < 0 || column >= dims.Cols {
		return fmt.Errorf("%w: column %d outside [0,%d)", domain.ErrInvalidPlacement, column, dims.Cols)
	}
	if height >= dims.Rows {
		return fmt.Errorf("%w: column %d is full", domain.ErrInvalidPlacement, column)
	}
	if claimedRow != height {
		return fmt.Errorf("%w: row %d claimed, column %d has height %d", domain.ErrInvalidPlacement, claimedRow, column, height)
	}
	return nil
}
