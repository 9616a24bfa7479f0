package hex

import "errors"

// ErrNoPath is returned by FindPath when the goal cannot be reached.
var ErrNoPath = errors.New("no path found")

// Blocked reports whether a tile cannot be entered.
type Blocked func(Coord) bool

// SetBlocked adapts a coordinate set into a Blocked predicate.
func SetBlocked(set map[Coord]bool) Blocked {
	return func(c Coord) bool { return set[c] }
}

// FindPath returns the shortest sequence of tiles from start to goal inclusive,
// searching breadth-first over in-bounds tiles for which blocked returns false.
// Neighbors are expanded in the order of Directions, so among equally short
// paths the result is always the same.
//
// The start tile is never tested against blocked; the goal tile is.
//
// Precondition: width and height are positive; blocked may be nil.
// Postcondition: on success len(path) == Distance-on-graph + 1, path[0] == start and
// path[len(path)-1] == goal; otherwise returns ErrNoPath.
func FindPath(start, goal Coord, blocked Blocked, width, height int) ([]Coord, error) {
	if blocked == nil {
		blocked = func(Coord) bool { return false }
	}
	if !InBounds(start, width, height) || !InBounds(goal, width, height) {
		return nil, ErrNoPath
	}
	if start == goal {
		return []Coord{start}, nil
	}
	if blocked(goal) {
		return nil, ErrNoPath
	}

	parent := map[Coord]Coord{start: start}
	queue := []Coord{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range Neighbors(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			if !InBounds(next, width, height) || blocked(next) {
				continue
			}
			parent[next] = cur
			if next == goal {
				return unwind(parent, start, goal), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, ErrNoPath
}

// FirstStep returns the direction of the first hop on the FindPath route from
// start to goal.
//
// Postcondition: ok is false when start == goal or no path exists.
func FirstStep(start, goal Coord, blocked Blocked, width, height int) (Direction, bool) {
	path, err := FindPath(start, goal, blocked, width, height)
	if err != nil || len(path) < 2 {
		return 0, false
	}
	return DirectionBetween(path[0], path[1])
}

func unwind(parent map[Coord]Coord, start, goal Coord) []Coord {
	var rev []Coord
	for c := goal; c != start; c = parent[c] {
		rev = append(rev, c)
	}
	rev = append(rev, start)
	path := make([]Coord, len(rev))
	for i, c := range rev {
		path[len(rev)-1-i] = c
	}
	return path
}
