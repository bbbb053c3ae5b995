package domain

// CursorState is the pagination state of one direction.
type CursorState string

const (
	CursorStateHasMore   CursorState = "has_more"
	CursorStateExhausted CursorState = "exhausted"
)

// Cursor tracks the opaque page key of one direction.
type Cursor struct {
	Direction Direction
	PageKey   *string
	State     CursorState
	Pages     int
}

// NewCursor returns a cursor positioned before the first page.
func NewCursor(dir Direction) *Cursor {
	return &Cursor{Direction: dir, State: CursorStateHasMore}
}

// HasMore reports whether another page may be fetched.
func (c *Cursor) HasMore() bool {
	return c.State == CursorStateHasMore
}

// Advance records the page key returned with the last page.
// A nil or empty key exhausts the cursor; exhaustion is permanent.
func (c *Cursor) Advance(next *string) {
	if c.State == CursorStateExhausted {
		return
	}
	c.Pages++
	if next == nil || *next == "" {
		c.PageKey = nil
		c.State = CursorStateExhausted
		return
	}
	key := *next
	c.PageKey = &key
}
