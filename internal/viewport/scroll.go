package viewport

// Scroller tracks a cursor and scroll offset for a list rendered one line per
// row, as the terminal browser does. All values are in rows.
type Scroller struct {
	Cursor    int
	ScrollTop int
	Height    int
}

// Move shifts the cursor by delta rows within [0, count) and scrolls just
// enough to keep it visible.
func (s *Scroller) Move(delta, count int) {
	s.Cursor += delta
	s.Clamp(count)
}

// Home jumps to the first row.
func (s *Scroller) Home() {
	s.Cursor = 0
	s.ScrollTop = 0
}

// End jumps to the last loaded row.
func (s *Scroller) End(count int) {
	s.Cursor = count - 1
	s.Clamp(count)
}

// Resize changes the viewport height.
func (s *Scroller) Resize(height, count int) {
	s.Height = height
	s.Clamp(count)
}

// Clamp keeps cursor and scroll offset valid for count rows.
func (s *Scroller) Clamp(count int) {
	if count <= 0 {
		s.Cursor = 0
		s.ScrollTop = 0
		return
	}
	if s.Cursor >= count {
		s.Cursor = count - 1
	}
	if s.Cursor < 0 {
		s.Cursor = 0
	}
	if s.Height <= 0 {
		s.ScrollTop = s.Cursor
		return
	}
	if s.Cursor < s.ScrollTop {
		s.ScrollTop = s.Cursor
	}
	if s.Cursor >= s.ScrollTop+s.Height {
		s.ScrollTop = s.Cursor - s.Height + 1
	}
	maxTop := count - s.Height
	if maxTop < 0 {
		maxTop = 0
	}
	if s.ScrollTop > maxTop {
		s.ScrollTop = maxTop
	}
	if s.ScrollTop < 0 {
		s.ScrollTop = 0
	}
}
