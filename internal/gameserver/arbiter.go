package gameserver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/udisondev/seabattle/internal/model"
	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/store"
)

// Peer is what the arbiter needs from a connected session: an identity, a
// way to push one framed message, and a way to drop the connection.
type Peer interface {
	Name() string
	Send(protocol.Message) error
	Close()
}

// Arbiter owns player-versus-player matchmaking and every running
// two-player game. Per-game arbitration runs under that game's lock, so
// shot replies, turn notifications and end-of-game messages leave each
// connection in a single consistent order.
type Arbiter struct {
	users    store.Store
	gridSize int
	fleet    []model.ShipSpec

	mu       sync.Mutex
	queue    []Peer
	byPlayer map[string]*pvpGame
	resumes  map[string]*pendingResume
	nextID   uint64
}

// pvpGame pairs a rules-level game with the two live connections playing
// it. Its mutex is acquired after Arbiter.mu, never the other way around.
type pvpGame struct {
	id uint64

	mu    sync.Mutex
	game  *model.Game
	peers map[string]Peer
	ready map[string]bool
	done  bool
}

// pendingResume is one half of a saved two-player game waiting for the
// other participant to reconnect.
type pendingResume struct {
	peer Peer
	snap model.GameSnapshot
}

// NewArbiter creates an arbiter with empty queue and game table.
func NewArbiter(users store.Store, gridSize int, fleet []model.ShipSpec) *Arbiter {
	return &Arbiter{
		users:    users,
		gridSize: gridSize,
		fleet:    fleet,
		byPlayer: make(map[string]*pvpGame),
		resumes:  make(map[string]*pendingResume),
	}
}

// sendOrClose pushes a message and drops the peer when the write fails.
// The peer's own read loop then runs the usual disconnect path.
func sendOrClose(p Peer, m protocol.Message) {
	if err := p.Send(m); err != nil {
		slog.Warn("dropping unreachable peer", "player", p.Name(), "err", err)
		p.Close()
	}
}

// Enqueue pairs the session with the longest-waiting player, or parks it
// on the queue. Pairing, game creation and the match notifications happen
// under one lock, so a session never observes them out of order.
func (a *Arbiter) Enqueue(p Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, playing := a.byPlayer[p.Name()]; playing {
		sendOrClose(p, protocol.Erreur("Vous êtes déjà en partie."))
		return
	}

	for len(a.queue) > 0 {
		opp := a.queue[0]
		a.queue = a.queue[1:]
		if opp.Name() == p.Name() {
			continue
		}
		g := a.startGameLocked(opp, p)
		slog.Info("players matched", "game", g.id, "player1", opp.Name(), "player2", p.Name())
		sendOrClose(opp, protocol.AdversaireTrouve(p.Name()))
		sendOrClose(p, protocol.AdversaireTrouve(opp.Name()))
		return
	}

	a.queue = append(a.queue, p)
	slog.Info("player queued", "player", p.Name(), "waiting", len(a.queue))
	sendOrClose(p, protocol.New(protocol.MsgAttenteAdversaire))
}

// startGameLocked creates the game entry for a fresh pair. The first
// queued player becomes player 1 and will open. Caller holds a.mu.
func (a *Arbiter) startGameLocked(p1, p2 Peer) *pvpGame {
	a.nextID++
	g := &pvpGame{
		id: a.nextID,
		game: model.NewGame(
			model.NewPlayer(p1.Name(), a.gridSize, a.fleet),
			model.NewPlayer(p2.Name(), a.gridSize, a.fleet),
		),
		peers: map[string]Peer{p1.Name(): p1, p2.Name(): p2},
		ready: make(map[string]bool),
	}
	a.byPlayer[p1.Name()] = g
	a.byPlayer[p2.Name()] = g
	return g
}

func (a *Arbiter) gameOf(name string) *pvpGame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byPlayer[name]
}

// InGame reports whether the player currently has a two-player game.
func (a *Arbiter) InGame(name string) bool {
	return a.gameOf(name) != nil
}

// PlaceFleet applies the player's requested placements. When both players
// have placed, the game starts and both sides get DEBUT_PARTIE plus their
// first turn notification. The PLACEMENT_OK acknowledgement is sent here
// so it always precedes the start messages.
func (a *Arbiter) PlaceFleet(p Peer, placements []model.ShipPlacement) error {
	g := a.gameOf(p.Name())
	if g == nil {
		return fmt.Errorf("no active game")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.game.State != model.StatePending {
		return fmt.Errorf("game already started")
	}

	player := g.game.PlayerByName(p.Name())
	if err := player.PlaceFleet(a.fleet, placements); err != nil {
		return err
	}
	sendOrClose(p, protocol.New(protocol.MsgPlacementOK))
	g.ready[p.Name()] = true

	if len(g.ready) < 2 {
		return nil
	}
	if err := g.game.Start(); err != nil {
		return fmt.Errorf("starting game: %w", err)
	}
	slog.Info("game started", "game", g.id)
	for name, peer := range g.peers {
		sendOrClose(peer, protocol.DebutPartie(g.game.OpponentOf(name), protocol.ModeVsPlayer))
	}
	a.notifyTurnLocked(g)
	return nil
}

// notifyTurnLocked tells both players whose turn it is. Caller holds g.mu.
func (a *Arbiter) notifyTurnLocked(g *pvpGame) {
	current := g.game.CurrentPlayer().Name
	for name, peer := range g.peers {
		if name == current {
			sendOrClose(peer, protocol.New(protocol.MsgVotreTour))
		} else {
			sendOrClose(peer, protocol.New(protocol.MsgTourAdversaire))
		}
	}
}

// HandleShot arbitrates one shot: it validates the turn, applies the shot
// on the rules game and fans out the results. The server's game state is
// the only authority; out-of-turn shots get an error.
func (a *Arbiter) HandleShot(ctx context.Context, p Peer, x, y int) {
	g := a.gameOf(p.Name())
	if g == nil {
		sendOrClose(p, protocol.Erreur("Aucune partie en cours."))
		return
	}

	g.mu.Lock()
	if g.game.State != model.StateInProgress {
		g.mu.Unlock()
		sendOrClose(p, protocol.Erreur("La partie n'est pas en cours."))
		return
	}
	if !g.game.IsTurnOf(p.Name()) {
		g.mu.Unlock()
		sendOrClose(p, protocol.Erreur("Ce n'est pas votre tour."))
		return
	}

	result, sunkShip, finished, err := g.game.ApplyShot(x, y)
	if err != nil {
		g.mu.Unlock()
		sendOrClose(p, protocol.Erreur("Tir impossible."))
		return
	}

	sendOrClose(p, protocol.ReponseTir(string(result), x, y, sunkShip))
	if result != model.ShotRepeat {
		if opp := g.peers[g.game.OpponentOf(p.Name())]; opp != nil {
			sendOrClose(opp, protocol.ReponseTirRecu(string(result), x, y, p.Name(), sunkShip))
		}
	}

	if finished {
		g.done = true
		winner := g.game.Winner
		slog.Info("game finished", "game", g.id, "winner", winner)
		for name, peer := range g.peers {
			if name == winner {
				sendOrClose(peer, protocol.FinPartieStatus(protocol.StatusVictory,
					"Vous avez gagné ! Tous les navires ennemis sont coulés."))
			} else {
				sendOrClose(peer, protocol.FinPartieStatus(protocol.StatusDefeat,
					"Vous avez perdu. Tous vos navires sont coulés."))
			}
		}
		g.mu.Unlock()
		a.removeGame(g)
		a.dropSavedGames(ctx, g)
		return
	}

	if result != model.ShotRepeat {
		a.notifyTurnLocked(g)
	}
	g.mu.Unlock()
}

// dropSavedGames removes stale snapshots of a game that just ended, so
// neither participant can resume it.
func (a *Arbiter) dropSavedGames(ctx context.Context, g *pvpGame) {
	for name := range g.peers {
		if err := a.users.DeleteSavedGame(ctx, name); err != nil {
			slog.Error("deleting saved game", "player", name, "err", err)
		}
	}
}

// RelayChat forwards a chat line to the opponent. Lines sent outside a
// game are dropped.
func (a *Arbiter) RelayChat(p Peer, text string) {
	g := a.gameOf(p.Name())
	if g == nil {
		slog.Debug("chat without game dropped", "player", p.Name())
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if opp := g.peers[g.game.OpponentOf(p.Name())]; opp != nil {
		sendOrClose(opp, protocol.ChatGlobal(p.Name(), text))
	}
}

// SnapshotFor returns a consistent snapshot of the player's running game
// and the opponent's name.
func (a *Arbiter) SnapshotFor(name string) (model.GameSnapshot, string, bool) {
	g := a.gameOf(name)
	if g == nil {
		return model.GameSnapshot{}, "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.game.Snapshot(), g.game.OpponentOf(name), true
}

// HandleAbandon ends the player's game in the opponent's favor and tells
// both sides.
func (a *Arbiter) HandleAbandon(p Peer) {
	g := a.gameOf(p.Name())
	if g == nil {
		sendOrClose(p, protocol.Erreur("Aucune partie en cours."))
		return
	}

	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.game.Abandon(p.Name())
	slog.Info("game abandoned", "game", g.id, "by", p.Name())
	sendOrClose(p, protocol.FinPartieStatus(protocol.StatusDefeat, "Vous avez abandonné la partie."))
	if winner := g.peers[g.game.Winner]; winner != nil {
		sendOrClose(winner, protocol.FinPartieStatus(protocol.StatusVictory, "Votre adversaire a abandonné la partie."))
	}
	g.mu.Unlock()
	a.removeGame(g)
}

// HandleDisconnect cleans up every trace of a gone player: its queue slot,
// its pending resume, and its running game, which the survivor wins.
// Safe to call more than once.
func (a *Arbiter) HandleDisconnect(name string) {
	a.mu.Lock()
	for i, waiting := range a.queue {
		if waiting.Name() == name {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			break
		}
	}
	for key, pending := range a.resumes {
		if pending.peer.Name() == name {
			delete(a.resumes, key)
		}
	}
	g := a.byPlayer[name]
	a.mu.Unlock()

	if g == nil {
		return
	}
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.done = true
	g.game.Abandon(name)
	slog.Info("player left running game", "game", g.id, "player", name)
	if survivor := g.peers[g.game.Winner]; survivor != nil {
		sendOrClose(survivor, protocol.FinPartieStatus(protocol.StatusVictory,
			"Votre adversaire s'est déconnecté. Vous gagnez la partie."))
	}
	g.mu.Unlock()
	a.removeGame(g)
}

// removeGame unregisters both players. Idempotent.
func (a *Arbiter) removeGame(g *pvpGame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name := range g.peers {
		if a.byPlayer[name] == g {
			delete(a.byPlayer, name)
		}
	}
}

// Resume registers one half of a saved two-player game. When the second
// participant shows up the game restarts from the snapshot registered
// first, and both sides get the start and turn notifications. Until then
// the caller waits like any queued player.
func (a *Arbiter) Resume(p Peer, snap model.GameSnapshot) error {
	key := pairKey(snap.Player1.Name, snap.Player2.Name)

	a.mu.Lock()
	defer a.mu.Unlock()

	pending, ok := a.resumes[key]
	if !ok || pending.peer.Name() == p.Name() {
		a.resumes[key] = &pendingResume{peer: p, snap: snap}
		sendOrClose(p, protocol.New(protocol.MsgAttenteAdversaire))
		return nil
	}
	delete(a.resumes, key)

	game, err := model.GameFromSnapshot(pending.snap)
	if err != nil {
		return fmt.Errorf("restoring saved game: %w", err)
	}
	game.State = model.StateInProgress

	a.nextID++
	g := &pvpGame{
		id:    a.nextID,
		game:  game,
		peers: map[string]Peer{pending.peer.Name(): pending.peer, p.Name(): p},
		ready: map[string]bool{pending.peer.Name(): true, p.Name(): true},
	}
	a.byPlayer[pending.peer.Name()] = g
	a.byPlayer[p.Name()] = g
	slog.Info("saved game resumed", "game", g.id, "player1", game.Player1.Name, "player2", game.Player2.Name)

	g.mu.Lock()
	defer g.mu.Unlock()
	for name, peer := range g.peers {
		sendOrClose(peer, protocol.DebutPartie(g.game.OpponentOf(name), protocol.ModeVsPlayer))
	}
	a.notifyTurnLocked(g)
	return nil
}

// pairKey builds an order-independent key for a player pair.
func pairKey(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return strings.Join(names, "|")
}
