package shared

// Page selects a window of a result set using offset pagination
type Page struct {
	Skip  int
	Limit int
}

// MaxPageLimit caps the number of rows a single page may return
const MaxPageLimit = 100

// DefaultPage returns the first page with the maximum limit
func DefaultPage() Page {
	return Page{Skip: 0, Limit: MaxPageLimit}
}

// Normalize clamps skip and limit into valid ranges
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 || p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
