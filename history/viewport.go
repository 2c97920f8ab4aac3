package history

import "github.com/thetooth/pinggraph/ping"

// Viewport is a window of Height rows onto a row-major grid of Width columns.
// By default it follows the newest row; scrolling up pins the last visible
// row until the view is scrolled back down to the end.
type Viewport struct {
	Width  int
	Height int

	end    int
	pinned bool
}

// Live reports whether the viewport follows the newest data.
func (v *Viewport) Live() bool { return !v.pinned }

// Follow returns to the newest data.
func (v *Viewport) Follow() {
	v.pinned = false
	v.end = 0
}

// EndRow is the exclusive last row of the view.
func (v *Viewport) EndRow(h *History) int {
	total := h.TotalRows(v.Width)
	if v.pinned && v.end < total {
		return v.end
	}
	return total
}

// Bounds returns the visible row range [start, end).
func (v *Viewport) Bounds(h *History) (start, end int) {
	end = v.EndRow(h)
	visible := end
	if visible > v.Height {
		visible = v.Height
	}
	if visible < 0 {
		visible = 0
	}
	return end - visible, end
}

// ScrollUp moves the view rows towards older data. The first row always
// stays visible.
func (v *Viewport) ScrollUp(h *History, rows int) {
	total := h.TotalRows(v.Width)
	if total == 0 {
		return
	}
	current := total
	if v.pinned {
		current = v.end
	}
	end := current - rows
	if end < 1 {
		end = 1
	}
	v.end = end
	v.pinned = true
}

// ScrollDown moves the view rows towards newer data and resumes following
// once the end is reached.
func (v *Viewport) ScrollDown(h *History, rows int) {
	if !v.pinned {
		return
	}
	end := v.end + rows
	if end >= h.TotalRows(v.Width) {
		v.Follow()
		return
	}
	v.end = end
}

// Locate maps a screen cell to a ring position. Rows are bottom aligned: when
// there is less data than the viewport height the top rows are empty.
func (v *Viewport) Locate(h *History, screenRow, col int) (int, bool) {
	if h.Len() == 0 || v.Width <= 0 || v.Height <= 0 {
		return 0, false
	}
	if screenRow < 0 || screenRow >= v.Height {
		return 0, false
	}

	start, end := v.Bounds(h)
	emptyTop := v.Height - (end - start)
	if screenRow < emptyTop {
		return 0, false
	}
	return h.Locate(v.Width, start+screenRow-emptyTop, col)
}

// ResultAt returns the result drawn at a screen cell.
func (v *Viewport) ResultAt(h *History, screenRow, col int) (ping.Result, bool) {
	i, ok := v.Locate(h, screenRow, col)
	if !ok {
		return ping.Result{}, false
	}
	return h.At(i)
}
