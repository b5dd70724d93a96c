package game

const (
	minGridSize = 2
	maxGridSize = 5
)

// Cell is one clickable square. Index is 0-based, row-major.
type Cell struct {
	Index  int  `json:"index"`
	Row    int  `json:"row"`
	Col    int  `json:"col"`
	Active bool `json:"active"`
}

// Grid is a render description of a size×size board.
type Grid struct {
	Size  int    `json:"size"`
	Cells []Cell `json:"cells"`
}

// Render builds the grid for size with at most one highlighted cell.
// A negative highlight (or one outside the board) highlights nothing.
func Render(size, highlight int) Grid {
	n := size * size
	g := Grid{Size: size, Cells: make([]Cell, n)}
	for i := 0; i < n; i++ {
		g.Cells[i] = Cell{
			Index:  i,
			Row:    i / size,
			Col:    i % size,
			Active: i == highlight,
		}
	}
	return g
}

// Active returns the highlighted cell index, or -1.
func (g Grid) Active() int {
	for _, c := range g.Cells {
		if c.Active {
			return c.Index
		}
	}
	return -1
}
