package model

import "fmt"

// AIName is the reserved opponent name for solo games.
const AIName = "SERVEUR_IA"

// Game states.
const (
	StatePending    = "EN_ATTENTE"
	StateInProgress = "EN_COURS"
	StateFinished   = "TERMINEE"
	StateAbandoned  = "ABANDONNEE"
	StatePaused     = "MIS_EN_PAUSE"
)

// Game holds two players, the turn flag and the termination state.
// It is pure rules: callers serialize access.
type Game struct {
	Player1 *Player
	Player2 *Player

	State       string
	Player1Turn bool
	Winner      string
}

// NewGame creates a pending game between two players. Player 1 opens.
func NewGame(p1, p2 *Player) *Game {
	return &Game{
		Player1:     p1,
		Player2:     p2,
		State:       StatePending,
		Player1Turn: true,
	}
}

// Start random-places any unplaced ships and marks the game in progress.
// A no-op on fleets already placed manually.
func (g *Game) Start() error {
	if err := g.Player1.RandomPlace(); err != nil {
		return fmt.Errorf("placing fleet of %s: %w", g.Player1.Name, err)
	}
	if err := g.Player2.RandomPlace(); err != nil {
		return fmt.Errorf("placing fleet of %s: %w", g.Player2.Name, err)
	}
	g.State = StateInProgress
	return nil
}

// Finished reports whether the game reached a terminal state.
func (g *Game) Finished() bool {
	return g.State == StateFinished || g.State == StateAbandoned
}

// PlayerByName returns the participant with that name, or nil.
func (g *Game) PlayerByName(name string) *Player {
	switch name {
	case g.Player1.Name:
		return g.Player1
	case g.Player2.Name:
		return g.Player2
	}
	return nil
}

// OpponentOf returns the other participant's name.
func (g *Game) OpponentOf(name string) string {
	if name == g.Player1.Name {
		return g.Player2.Name
	}
	return g.Player1.Name
}

// IsTurnOf reports whether it is the named player's turn.
func (g *Game) IsTurnOf(name string) bool {
	if g.Player1Turn {
		return name == g.Player1.Name
	}
	return name == g.Player2.Name
}

// CurrentPlayer returns the player whose turn it is.
func (g *Game) CurrentPlayer() *Player {
	if g.Player1Turn {
		return g.Player1
	}
	return g.Player2
}

// ApplyShot resolves a shot by the current player at (x, y) on the
// opponent's grid. The turn flips unless the shot was a repeat or ended
// the game. Fails when the game is not in progress.
func (g *Game) ApplyShot(x, y int) (ShotResult, string, bool, error) {
	if g.State != StateInProgress {
		return "", "", false, fmt.Errorf("game not in progress (state %s)", g.State)
	}

	shooter := g.Player1
	target := g.Player2
	if !g.Player1Turn {
		shooter, target = target, shooter
	}

	result, sunkShip := target.ReceiveShot(x, y)
	if result == ShotRepeat {
		return result, "", false, nil
	}

	shooter.RecordShot(x, y, result)

	if target.AllShipsSunk() {
		g.State = StateFinished
		g.Winner = shooter.Name
		return result, sunkShip, true, nil
	}

	g.Player1Turn = !g.Player1Turn
	return result, sunkShip, false, nil
}

// Abandon terminates the game in favor of the remaining player.
func (g *Game) Abandon(loser string) {
	g.State = StateAbandoned
	g.Winner = g.OpponentOf(loser)
}
