package params

import "sort"

// Guard tracks which editable fields currently hold focus. While any field
// is focused, background refreshes must not touch the edit buffer.
//
// A Guard is owned by the UI event layer and is not safe for concurrent use;
// callers serialise access through the session loop.
type Guard struct {
	focused map[string]struct{}
}

// NewGuard returns a guard with no focused fields.
func NewGuard() *Guard {
	return &Guard{focused: make(map[string]struct{})}
}

// Enter marks field as focused.
func (g *Guard) Enter(field string) {
	if g.focused == nil {
		g.focused = make(map[string]struct{})
	}
	g.focused[field] = struct{}{}
}

// Exit marks field as no longer focused.
func (g *Guard) Exit(field string) {
	delete(g.focused, field)
}

// IsEditing reports whether any field is focused.
func (g *Guard) IsEditing() bool {
	return g != nil && len(g.focused) > 0
}

// Reset clears every focus mark. Called after a confirmed save so the next
// refresh shows the values the device accepted.
func (g *Guard) Reset() {
	for field := range g.focused {
		delete(g.focused, field)
	}
}

// Focused returns the focused field names in stable order.
func (g *Guard) Focused() []string {
	if g == nil {
		return nil
	}
	fields := make([]string, 0, len(g.focused))
	for field := range g.focused {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Has reports whether field is focused.
func (g *Guard) Has(field string) bool {
	if g == nil {
		return false
	}
	_, ok := g.focused[field]
	return ok
}
