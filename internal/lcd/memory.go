package lcd

import "sync"

// Memory is a Display backed by a rune grid. Text wraps nowhere: characters
// past the last column are dropped, like on the real controller's visible
// window.
type Memory struct {
	mu       sync.Mutex
	cols     int
	rows     int
	grid     [][]rune
	col, row int
}

// NewMemory returns a blank cols x rows display.
func NewMemory(cols, rows int) *Memory {
	m := &Memory{cols: cols, rows: rows}
	m.grid = make([][]rune, rows)
	for i := range m.grid {
		m.grid[i] = make([]rune, cols)
	}
	_ = m.Clear()
	return m
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range m.grid {
		for i := range line {
			line[i] = ' '
		}
	}
	m.col, m.row = 0, 0
	return nil
}

func (m *Memory) SetCursor(col, row int) error {
	if err := checkCursor(col, row, m.cols, m.rows); err != nil {
		return err
	}
	m.mu.Lock()
	m.col, m.row = col, row
	m.mu.Unlock()
	return nil
}

func (m *Memory) Print(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range s {
		if m.col < m.cols {
			m.grid[m.row][m.col] = r
		}
		m.col++
	}
	return nil
}

func (m *Memory) Size() (int, int) { return m.cols, m.rows }

func (m *Memory) Close() error { return nil }

// Lines returns the current content, one string per row.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, m.rows)
	for i, line := range m.grid {
		out[i] = string(line)
	}
	return out
}
