package model

import "sort"

// Ship orientations on the grid.
const (
	Horizontal = "H"
	Vertical   = "V"
)

// Coord is one grid cell, x = column, y = row.
type Coord struct {
	X int
	Y int
}

// Ship is a single vessel: a footprint on the owner's grid plus the set of
// cells the opponent has hit.
type Ship struct {
	Name        string
	Size        int
	X           int
	Y           int
	Orientation string
	Placed      bool

	hits map[Coord]struct{}
}

// NewShip creates an unplaced ship.
func NewShip(name string, size int) *Ship {
	return &Ship{
		Name:        name,
		Size:        size,
		Orientation: Horizontal,
		hits:        map[Coord]struct{}{},
	}
}

// Place anchors the ship at (x, y) with the given orientation.
func (s *Ship) Place(x, y int, orientation string) {
	s.X = x
	s.Y = y
	s.Orientation = orientation
	s.Placed = true
}

// Coords returns every cell of the footprint, empty until placed.
func (s *Ship) Coords() []Coord {
	if !s.Placed {
		return nil
	}
	coords := make([]Coord, 0, s.Size)
	for i := range s.Size {
		if s.Orientation == Horizontal {
			coords = append(coords, Coord{X: s.X + i, Y: s.Y})
		} else {
			coords = append(coords, Coord{X: s.X, Y: s.Y + i})
		}
	}
	return coords
}

// RegisterHit records a hit at (x, y) if the cell belongs to the footprint.
// Returns true when this ship was hit.
func (s *Ship) RegisterHit(x, y int) bool {
	for _, c := range s.Coords() {
		if c.X == x && c.Y == y {
			s.hits[Coord{X: x, Y: y}] = struct{}{}
			return true
		}
	}
	return false
}

// Sunk reports whether every footprint cell has been hit.
func (s *Ship) Sunk() bool {
	return len(s.hits) == s.Size
}

// HitCount returns the number of distinct cells hit on this ship.
func (s *Ship) HitCount() int {
	return len(s.hits)
}

// HitCoords returns the hit cells in deterministic order.
func (s *Ship) HitCoords() []Coord {
	coords := make([]Coord, 0, len(s.hits))
	for c := range s.hits {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})
	return coords
}
