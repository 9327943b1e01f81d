// Package bingo holds the pure board logic: line layout, the two
// done-predicates, and bingo detection over a card's 25 logical cells.
package bingo

import "time"

const (
	GridSize      = 5
	CellCount     = GridSize * GridSize
	JokerPosition = 12
)

// Cell states.
const (
	StatePending       = "pending"
	StateCompleted     = "completed"
	StatePendingReview = "pending_review"
	StateAccomplished  = "accomplished"
)

// Cell is the minimal view of one board square the detector needs. The
// joker never has to be present in the input; its position is always done.
type Cell struct {
	Position  int
	Empty     bool
	State     string
	UpdatedAt time.Time
}

// DoneForReview treats a cell under review as done, so a challenged cell
// keeps its line lit while the vote runs. Used for board views.
func DoneForReview(c Cell) bool {
	if c.Position == JokerPosition {
		return true
	}
	if c.Empty {
		return false
	}
	switch c.State {
	case StateCompleted, StateAccomplished, StatePendingReview:
		return true
	}
	return false
}

// DoneForScore is the stricter predicate behind leaderboard timestamps; a
// cell under review does not count until its vote settles. Keep this and
// DoneForReview separate even though they look mergeable.
func DoneForScore(c Cell) bool {
	if c.Position == JokerPosition {
		return true
	}
	if c.Empty {
		return false
	}
	return c.State == StateCompleted || c.State == StateAccomplished
}

var lines = buildLines()

func buildLines() [][]int {
	built := make([][]int, 0, 2*GridSize+2)
	for row := 0; row < GridSize; row++ {
		line := make([]int, GridSize)
		for col := 0; col < GridSize; col++ {
			line[col] = row*GridSize + col
		}
		built = append(built, line)
	}
	for col := 0; col < GridSize; col++ {
		line := make([]int, GridSize)
		for row := 0; row < GridSize; row++ {
			line[row] = row*GridSize + col
		}
		built = append(built, line)
	}
	diagonal := make([]int, GridSize)
	antidiagonal := make([]int, GridSize)
	for i := 0; i < GridSize; i++ {
		diagonal[i] = i*GridSize + i
		antidiagonal[i] = i*GridSize + (GridSize - 1 - i)
	}
	return append(built, diagonal, antidiagonal)
}

// Lines returns the 12 board lines (5 rows, 5 columns, 2 diagonals) as
// position slices.
func Lines() [][]int {
	out := make([][]int, len(lines))
	for i, line := range lines {
		copied := make([]int, len(line))
		copy(copied, line)
		out[i] = copied
	}
	return out
}

// HasBingo reports whether at least one line is fully done under the given
// predicate.
func HasBingo(cells []Cell, done func(Cell) bool) bool {
	byPos := indexByPosition(cells)
	for _, line := range lines {
		if lineDone(byPos, line, done) {
			return true
		}
	}
	return false
}

// FirstBingoAt returns when the earliest bingo was achieved under the score
// predicate: a line finishes when its slowest cell does, and across finished
// lines the earliest finish wins. ok is false when no line is done.
func FirstBingoAt(cells []Cell) (at time.Time, ok bool) {
	byPos := indexByPosition(cells)
	for _, line := range lines {
		if !lineDone(byPos, line, DoneForScore) {
			continue
		}
		var finished time.Time
		for _, pos := range line {
			if pos == JokerPosition {
				continue
			}
			if c := byPos[pos]; c != nil && c.UpdatedAt.After(finished) {
				finished = c.UpdatedAt
			}
		}
		if !ok || finished.Before(at) {
			at = finished
			ok = true
		}
	}
	return at, ok
}

// CompletedCount counts cells that score as completed work: completed or
// accomplished. Cells under review are deliberately excluded.
func CompletedCount(cells []Cell) int {
	count := 0
	for _, c := range cells {
		if c.Position == JokerPosition || c.Empty {
			continue
		}
		if c.State == StateCompleted || c.State == StateAccomplished {
			count++
		}
	}
	return count
}

func indexByPosition(cells []Cell) [CellCount]*Cell {
	var byPos [CellCount]*Cell
	for i := range cells {
		c := &cells[i]
		if c.Position >= 0 && c.Position < CellCount {
			byPos[c.Position] = c
		}
	}
	return byPos
}

func lineDone(byPos [CellCount]*Cell, line []int, done func(Cell) bool) bool {
	for _, pos := range line {
		if pos == JokerPosition {
			continue
		}
		c := byPos[pos]
		if c == nil || !done(*c) {
			return false
		}
	}
	return true
}
