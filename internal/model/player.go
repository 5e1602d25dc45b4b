package model

import (
	"fmt"
	mathrand "math/rand/v2"
)

// Cell states on a grid.
const (
	CellWater = 0
	CellShip  = 1
	CellHit   = 2
	CellMiss  = 3
)

// ShotResult is the outcome of a shot on the receiver's grid.
type ShotResult string

const (
	ShotMiss   ShotResult = "RATE"
	ShotHit    ShotResult = "TOUCHE"
	ShotSunk   ShotResult = "COULE"
	ShotRepeat ShotResult = "DEJA_TIRE"
)

// ShipSpec is one (name, length) entry of the fleet definition.
type ShipSpec struct {
	Name string
	Size int
}

// ShipPlacement is a client-requested position for one ship.
type ShipPlacement struct {
	Name        string
	Size        int
	X           int
	Y           int
	Orientation string
}

const maxPlacementAttempts = 1000

// Player owns a grid with its fleet and a tracking grid recording the shots
// it fired at the opponent. Grid indexing is grid[y][x], x = column.
type Player struct {
	Name     string
	Grid     [][]int
	Tracking [][]int
	Ships    []*Ship

	gridSize int
}

// NewPlayer creates a player with empty grids and the fleet unplaced.
func NewPlayer(name string, gridSize int, fleet []ShipSpec) *Player {
	p := &Player{
		Name:     name,
		Grid:     emptyGrid(gridSize),
		Tracking: emptyGrid(gridSize),
		gridSize: gridSize,
	}
	for _, spec := range fleet {
		p.Ships = append(p.Ships, NewShip(spec.Name, spec.Size))
	}
	return p
}

func emptyGrid(size int) [][]int {
	grid := make([][]int, size)
	for y := range grid {
		grid[y] = make([]int, size)
	}
	return grid
}

// GridSize returns the side of the square grid.
func (p *Player) GridSize() int {
	return p.gridSize
}

func (p *Player) inBounds(x, y int) bool {
	return x >= 0 && x < p.gridSize && y >= 0 && y < p.gridSize
}

func (p *Player) placementValid(size, x, y int, orientation string) bool {
	if x < 0 || y < 0 {
		return false
	}
	if orientation == Horizontal {
		if x+size > p.gridSize {
			return false
		}
	} else {
		if y+size > p.gridSize {
			return false
		}
	}
	for i := range size {
		px, py := x, y
		if orientation == Horizontal {
			px += i
		} else {
			py += i
		}
		if p.Grid[py][px] != CellWater {
			return false
		}
	}
	return true
}

// PlaceShip puts the ship on the grid if the footprint is free and inside
// bounds. Returns false without mutating anything otherwise.
func (p *Player) PlaceShip(ship *Ship, x, y int, orientation string) bool {
	if orientation != Horizontal && orientation != Vertical {
		return false
	}
	if !p.placementValid(ship.Size, x, y, orientation) {
		return false
	}
	ship.Place(x, y, orientation)
	for _, c := range ship.Coords() {
		p.Grid[c.Y][c.X] = CellShip
	}
	return true
}

// PlaceFleet resets the grid and places the whole fleet from the requested
// positions. The request must cover exactly the configured fleet.
func (p *Player) PlaceFleet(fleet []ShipSpec, placements []ShipPlacement) error {
	if len(placements) != len(fleet) {
		return fmt.Errorf("expected %d ships, got %d", len(fleet), len(placements))
	}

	p.Grid = emptyGrid(p.gridSize)
	p.Ships = nil

	for i, pl := range placements {
		if pl.Name != fleet[i].Name || pl.Size != fleet[i].Size {
			return fmt.Errorf("ship %d: expected %s(%d), got %s(%d)",
				i, fleet[i].Name, fleet[i].Size, pl.Name, pl.Size)
		}
		ship := NewShip(pl.Name, pl.Size)
		if !p.PlaceShip(ship, pl.X, pl.Y, pl.Orientation) {
			return fmt.Errorf("invalid placement for %s at (%d,%d) %s", pl.Name, pl.X, pl.Y, pl.Orientation)
		}
		p.Ships = append(p.Ships, ship)
	}
	return nil
}

// RandomPlace places every unplaced ship at a random free position.
// Fails after 1000 attempts per ship, which does not happen for the default
// fleet on a 10x10 grid.
func (p *Player) RandomPlace() error {
	for _, ship := range p.Ships {
		if ship.Placed {
			continue
		}
		placed := false
		for range maxPlacementAttempts {
			x := mathrand.IntN(p.gridSize)
			y := mathrand.IntN(p.gridSize)
			orientation := Horizontal
			if mathrand.IntN(2) == 1 {
				orientation = Vertical
			}
			if p.PlaceShip(ship, x, y, orientation) {
				placed = true
				break
			}
		}
		if !placed {
			return fmt.Errorf("cannot place ship %s after %d attempts", ship.Name, maxPlacementAttempts)
		}
	}
	return nil
}

// AllPlaced reports whether every ship of the fleet is on the grid.
func (p *Player) AllPlaced() bool {
	for _, ship := range p.Ships {
		if !ship.Placed {
			return false
		}
	}
	return true
}

// ReceiveShot resolves a shot aimed at this player's grid.
// Out-of-bounds shots count as a miss without touching any state.
// A cell already resolved returns ShotRepeat and changes nothing.
func (p *Player) ReceiveShot(x, y int) (ShotResult, string) {
	if !p.inBounds(x, y) {
		return ShotMiss, ""
	}

	switch p.Grid[y][x] {
	case CellHit, CellMiss:
		return ShotRepeat, ""
	case CellWater:
		p.Grid[y][x] = CellMiss
		return ShotMiss, ""
	}

	// CellShip
	p.Grid[y][x] = CellHit
	for _, ship := range p.Ships {
		if ship.RegisterHit(x, y) {
			if ship.Sunk() {
				return ShotSunk, ship.Name
			}
			return ShotHit, ""
		}
	}
	// A ship cell with no owning ship would violate the grid invariant.
	return ShotHit, ""
}

// RecordShot marks the shooter's tracking grid after a resolved shot.
// Out-of-bounds coordinates are ignored.
func (p *Player) RecordShot(x, y int, result ShotResult) {
	if !p.inBounds(x, y) {
		return
	}
	if result == ShotMiss {
		p.Tracking[y][x] = CellMiss
	} else {
		p.Tracking[y][x] = CellHit
	}
}

// AllShipsSunk reports whether the whole fleet is destroyed.
func (p *Player) AllShipsSunk() bool {
	for _, ship := range p.Ships {
		if !ship.Sunk() {
			return false
		}
	}
	return len(p.Ships) > 0
}

// HitCellCount counts cells marked hit on the player's own grid.
func (p *Player) HitCellCount() int {
	n := 0
	for _, row := range p.Grid {
		for _, cell := range row {
			if cell == CellHit {
				n++
			}
		}
	}
	return n
}
