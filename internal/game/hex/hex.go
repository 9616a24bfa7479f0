// Package hex provides the pure spatial functions of the battlefield grid.
//
// Coordinates are axial (q, r) on a pointy-top layout. The implicit third cube
// coordinate is s = -q - r. A battlefield of width w and height h holds the
// axial parallelogram 0 <= q < w, 0 <= r < h.
//
// Every function in this package is free of shared state and safe for
// concurrent use without locking.
package hex

import "fmt"

// Coord is an axial hex coordinate.
type Coord struct {
	Q int `json:"q" yaml:"q"`
	R int `json:"r" yaml:"r"`
}

// S returns the implicit third cube coordinate.
func (c Coord) S() int {
	return -c.Q - c.R
}

// Add returns c translated by d.
func (c Coord) Add(d Coord) Coord {
	return Coord{Q: c.Q + d.Q, R: c.R + d.R}
}

// String returns the coordinate in "(q,r)" format.
func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Q, c.R)
}

// Direction identifies one of the six hex neighbors.
type Direction int

// The declaration order of the directions is the neighbor enumeration order
// used by Neighbors and FindPath. Changing it changes which of several equally
// short paths FindPath returns.
const (
	East Direction = iota
	NorthEast
	NorthWest
	West
	SouthWest
	SouthEast
)

// Directions lists all six directions in enumeration order.
var Directions = [6]Direction{East, NorthEast, NorthWest, West, SouthWest, SouthEast}

var vectors = [6]Coord{
	East:      {Q: 1, R: 0},
	NorthEast: {Q: 1, R: -1},
	NorthWest: {Q: 0, R: -1},
	West:      {Q: -1, R: 0},
	SouthWest: {Q: -1, R: 1},
	SouthEast: {Q: 0, R: 1},
}

var directionNames = [6]string{
	East:      "east",
	NorthEast: "northeast",
	NorthWest: "northwest",
	West:      "west",
	SouthWest: "southwest",
	SouthEast: "southeast",
}

// Valid reports whether d is one of the six defined directions.
func (d Direction) Valid() bool {
	return d >= East && d <= SouthEast
}

// Vector returns the axial offset for d.
//
// Precondition: d.Valid().
func (d Direction) Vector() Coord {
	return vectors[d]
}

// Opposite returns the direction pointing the other way.
//
// Precondition: d.Valid().
func (d Direction) Opposite() Direction {
	return (d + 3) % 6
}

// String returns the lower-case compass name of the direction.
func (d Direction) String() string {
	if !d.Valid() {
		return "unknown"
	}
	return directionNames[d]
}

// Step returns the neighbor of c in direction d.
//
// Precondition: d.Valid().
func Step(c Coord, d Direction) Coord {
	return c.Add(vectors[d])
}

// Distance returns the minimum number of single-tile hops between a and b.
//
// Postcondition: Distance(a, b) == Distance(b, a) and Distance(a, a) == 0.
func Distance(a, b Coord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}

// Neighbors returns the six adjacent coordinates in enumeration order
// E, NE, NW, W, SW, SE. Out-of-bounds neighbors are included.
func Neighbors(c Coord) [6]Coord {
	var out [6]Coord
	for i, v := range vectors {
		out[i] = c.Add(v)
	}
	return out
}

// InBounds reports whether c lies inside a width x height battlefield.
func InBounds(c Coord, width, height int) bool {
	return c.Q >= 0 && c.Q < width && c.R >= 0 && c.R < height
}

// DirectionBetween returns the direction that steps from a onto b.
//
// Postcondition: ok is true iff Distance(a, b) == 1.
func DirectionBetween(a, b Coord) (Direction, bool) {
	delta := Coord{Q: b.Q - a.Q, R: b.R - a.R}
	for i, v := range vectors {
		if v == delta {
			return Direction(i), true
		}
	}
	return 0, false
}

// ParseDirection resolves a compass name such as "northeast" into a Direction.
func ParseDirection(name string) (Direction, bool) {
	for i, n := range directionNames {
		if n == name {
			return Direction(i), true
		}
	}
	return 0, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
