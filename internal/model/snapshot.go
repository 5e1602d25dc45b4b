package model

import "fmt"

// Snapshot types mirror the persisted JSON layout:
// {"joueur1": {...}, "joueur2": {...}, "etat": ..., "tour_joueur1": ..., "gagnant": ...}

// ShipSnapshot is the serialized form of one ship.
type ShipSnapshot struct {
	Name        string   `json:"nom"`
	Size        int      `json:"taille"`
	X           int      `json:"x"`
	Y           int      `json:"y"`
	Orientation string   `json:"orientation"`
	Hits        [][2]int `json:"cases_touchees"`
	Placed      bool     `json:"positionne"`
}

// PlayerSnapshot is the serialized form of one player.
type PlayerSnapshot struct {
	Name     string         `json:"nom"`
	Grid     [][]int        `json:"grille"`
	Tracking [][]int        `json:"grille_suivi"`
	Ships    []ShipSnapshot `json:"navires"`
}

// GameSnapshot is the serialized form of a whole game, sufficient to
// reconstruct it exactly.
type GameSnapshot struct {
	Player1     PlayerSnapshot `json:"joueur1"`
	Player2     PlayerSnapshot `json:"joueur2"`
	State       string         `json:"etat"`
	Player1Turn bool           `json:"tour_joueur1"`
	Winner      *string        `json:"gagnant"`
}

// Snapshot serializes the ship, hit cells in deterministic order.
func (s *Ship) Snapshot() ShipSnapshot {
	hits := make([][2]int, 0, len(s.hits))
	for _, c := range s.HitCoords() {
		hits = append(hits, [2]int{c.X, c.Y})
	}
	return ShipSnapshot{
		Name:        s.Name,
		Size:        s.Size,
		X:           s.X,
		Y:           s.Y,
		Orientation: s.Orientation,
		Hits:        hits,
		Placed:      s.Placed,
	}
}

// ShipFromSnapshot rebuilds a ship, including its hit set.
func ShipFromSnapshot(snap ShipSnapshot) *Ship {
	ship := NewShip(snap.Name, snap.Size)
	ship.X = snap.X
	ship.Y = snap.Y
	if snap.Orientation != "" {
		ship.Orientation = snap.Orientation
	}
	ship.Placed = snap.Placed
	for _, h := range snap.Hits {
		ship.hits[Coord{X: h[0], Y: h[1]}] = struct{}{}
	}
	return ship
}

// Snapshot serializes the player with deep-copied grids.
func (p *Player) Snapshot() PlayerSnapshot {
	ships := make([]ShipSnapshot, 0, len(p.Ships))
	for _, ship := range p.Ships {
		ships = append(ships, ship.Snapshot())
	}
	return PlayerSnapshot{
		Name:     p.Name,
		Grid:     copyGrid(p.Grid),
		Tracking: copyGrid(p.Tracking),
		Ships:    ships,
	}
}

// PlayerFromSnapshot rebuilds a player from its serialized form.
func PlayerFromSnapshot(snap PlayerSnapshot) (*Player, error) {
	size := len(snap.Grid)
	if size == 0 {
		return nil, fmt.Errorf("player %s snapshot has empty grid", snap.Name)
	}
	if len(snap.Tracking) != size {
		return nil, fmt.Errorf("player %s snapshot tracking grid is %d rows, want %d", snap.Name, len(snap.Tracking), size)
	}
	for _, row := range append(append([][]int{}, snap.Grid...), snap.Tracking...) {
		if len(row) != size {
			return nil, fmt.Errorf("player %s snapshot grid is not %dx%d", snap.Name, size, size)
		}
	}

	p := &Player{
		Name:     snap.Name,
		Grid:     copyGrid(snap.Grid),
		Tracking: copyGrid(snap.Tracking),
		gridSize: size,
	}
	for _, s := range snap.Ships {
		p.Ships = append(p.Ships, ShipFromSnapshot(s))
	}
	return p, nil
}

// Snapshot serializes the full game state.
func (g *Game) Snapshot() GameSnapshot {
	snap := GameSnapshot{
		Player1:     g.Player1.Snapshot(),
		Player2:     g.Player2.Snapshot(),
		State:       g.State,
		Player1Turn: g.Player1Turn,
	}
	if g.Winner != "" {
		winner := g.Winner
		snap.Winner = &winner
	}
	return snap
}

// GameFromSnapshot reconstructs a game from its serialized form.
func GameFromSnapshot(snap GameSnapshot) (*Game, error) {
	p1, err := PlayerFromSnapshot(snap.Player1)
	if err != nil {
		return nil, fmt.Errorf("restoring player 1: %w", err)
	}
	p2, err := PlayerFromSnapshot(snap.Player2)
	if err != nil {
		return nil, fmt.Errorf("restoring player 2: %w", err)
	}
	g := &Game{
		Player1:     p1,
		Player2:     p2,
		State:       snap.State,
		Player1Turn: snap.Player1Turn,
	}
	if snap.Winner != nil {
		g.Winner = *snap.Winner
	}
	return g, nil
}

func copyGrid(grid [][]int) [][]int {
	out := make([][]int, len(grid))
	for y, row := range grid {
		out[y] = make([]int, len(row))
		copy(out[y], row)
	}
	return out
}
