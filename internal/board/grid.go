package board

// Grid is an in-memory board used to judge the position after a move.
// Cells hold player ids; 0 is empty.
type Grid struct {
	dims    Dimensions
	cells   [][]int64
	heights []int
	filled  int
}

// NewGrid returns an empty grid.
func NewGrid(dims Dimensions) *Grid {
	cells := make([][]int64, dims.Rows)
	for r := range cells {
		cells[r] = make([]int64, dims.Cols)
	}
	return &Grid{
		dims:    dims,
		cells:   cells,
		heights: make([]int, dims.Cols),
	}
}

// Height returns how many discs occupy column.
func (g *Grid) Height(column int) int {
	return g.heights[column]
}

// Drop places player's disc in column and returns the row it landed on.
// The placement must have passed Validate.
func (g *Grid) Drop(column int, player int64) int {
	row := g.heights[column]
	g.cells[row][column] = player
	g.heights[column]++
	g.filled++
	return row
}

// OpenColumns lists the columns that can still take a disc, left to right.
func (g *Grid) OpenColumns() []int {
	var open []int
	for c, h := range g.heights {
		if h < g.dims.Rows {
			open = append(open, c)
		}
	}
	return open
}

// Full reports whether every cell is occupied.
func (g *Grid) Full() bool {
	return g.filled == g.dims.Rows*g.dims.Cols
}

// ConnectsFour reports whether the disc at (row, column) is part of a line of
// four or more of the same player.
func (g *Grid) ConnectsFour(row, column int) bool {
	p := g.cells[row][column]
	if p == 0 {
		return false
	}
	dirs := [][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}
	for _, d := range dirs {
		n := 1 + g.count(row, column, d[0], d[1], p) + g.count(row, column, -d[0], -d[1], p)
		if n >= 4 {
			return true
		}
	}
	return false
}

func (g *Grid) count(row, column, dr, dc int, p int64) int {
	n := 0
	for r, c := row+dr, column+dc; r >= 0 && r < g.dims.Rows && c >= 0 && c < g.dims.Cols; r, c = r+dr, c+dc {
		if g.cells[r][c] != p {
			break
		}
		n++
	}
	return n
}
