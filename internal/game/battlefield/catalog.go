package battlefield

import (
	"fmt"
	"sort"
)

// Catalog indexes loaded layouts by ID. It is immutable after construction
// and safe for concurrent use.
type Catalog struct {
	layouts map[string]*Layout
}

// NewCatalog creates a Catalog from the given layouts.
//
// Postcondition: Returns a Catalog, or an error on duplicate layout IDs.
func NewCatalog(layouts []*Layout) (*Catalog, error) {
	c := &Catalog{layouts: make(map[string]*Layout, len(layouts))}
	for _, l := range layouts {
		if _, exists := c.layouts[l.ID]; exists {
			return nil, fmt.Errorf("duplicate battlefield ID: %q", l.ID)
		}
		c.layouts[l.ID] = l
	}
	return c, nil
}

// Get returns the layout with the given ID.
//
// Postcondition: Returns (layout, true) if found, or (nil, false) otherwise.
func (c *Catalog) Get(id string) (*Layout, bool) {
	l, ok := c.layouts[id]
	return l, ok
}

// IDs returns the sorted IDs of all layouts.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.layouts))
	for id := range c.layouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of layouts.
func (c *Catalog) Len() int { return len(c.layouts) }
