package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/model"
	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/store"
)

// phase is where the session stands in its lifecycle. Transitions are
// driven by the session's own read loop only.
type phase int

const (
	phaseHandshake phase = iota
	phaseResumePrompt
	phaseModeSelect
	phasePlacement
	phaseAttending
	phasePlaying
	phaseClosed
)

// Session serves one gameplay connection. Inbound messages are handled on
// the session's own goroutine; the arbiter pushes outbound messages from
// other goroutines through Send, which serializes writes.
type Session struct {
	cfg     config.Server
	users   store.Store
	arbiter *Arbiter
	reg     *registry

	conn    net.Conn
	writeMu sync.Mutex

	name  string
	mode  string
	phase phase
	game  *model.Game // solo game, nil in multiplayer
}

func newSession(cfg config.Server, users store.Store, arbiter *Arbiter, reg *registry, conn net.Conn) *Session {
	return &Session{
		cfg:     cfg,
		users:   users,
		arbiter: arbiter,
		reg:     reg,
		conn:    conn,
	}
}

// Name returns the player name claimed during the handshake.
func (s *Session) Name() string { return s.name }

// Send writes one framed message. Safe for concurrent use.
func (s *Session) Send(m protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteMessage(s.conn, m)
}

// Close drops the connection, which unblocks the session's read loop.
func (s *Session) Close() {
	s.conn.Close()
}

// send is Send for the session's own goroutine: a failed write ends the
// session.
func (s *Session) send(m protocol.Message) {
	if err := s.Send(m); err != nil {
		slog.Warn("write failed", "player", s.name, "err", err)
		s.phase = phaseClosed
	}
}

// run drives the session until the client leaves or the connection drops.
func (s *Session) run(ctx context.Context) {
	defer s.conn.Close()

	remote := s.conn.RemoteAddr()
	slog.Info("client connected", "remote", remote)

	if !s.handshake(ctx) {
		return
	}
	defer func() {
		s.reg.unregister(s.name, s)
		s.arbiter.HandleDisconnect(s.name)
		slog.Info("client disconnected", "player", s.name, "remote", remote)
	}()

	for s.phase != phaseClosed {
		msg, err := protocol.ReadMessage(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("read failed", "player", s.name, "err", err)
			}
			return
		}
		s.dispatch(ctx, msg)
	}
}

// handshake consumes the CONNEXION message, claims the name and tells the
// client whether a saved game is waiting.
func (s *Session) handshake(ctx context.Context) bool {
	msg, err := protocol.ReadMessage(s.conn)
	if err != nil {
		return false
	}
	if msg.Type != protocol.MsgConnexion {
		s.send(protocol.Erreur("CONNEXION attendue."))
		return false
	}

	name := strings.TrimSpace(msg.String("nom"))
	if name == "" || name == model.AIName {
		s.send(protocol.Erreur("Nom de joueur invalide."))
		return false
	}
	if !s.reg.register(name, s) {
		s.send(protocol.Erreur("Ce nom est déjà connecté."))
		return false
	}
	s.name = name

	saved, err := s.users.HasSavedGame(ctx, name)
	if err != nil {
		slog.Error("checking saved game", "player", name, "err", err)
		saved = false
	}
	if saved {
		s.send(protocol.ConnexionOK("Partie sauvegardée trouvée. Envoyez REPRENDRE_PARTIE ou NOUVELLE_PARTIE.", true))
		s.phase = phaseResumePrompt
	} else {
		s.send(protocol.ConnexionOK(fmt.Sprintf("Bienvenue, %s !", name), false))
		s.phase = phaseModeSelect
	}
	return true
}

func (s *Session) dispatch(ctx context.Context, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgDeconnexion:
		s.phase = phaseClosed
	case protocol.MsgReprendrePartie:
		s.handleResume(ctx)
	case protocol.MsgNouvellePartie:
		s.handleDeclineResume(ctx)
	case protocol.MsgChoixMode:
		s.handleModeChoice(msg)
	case protocol.MsgPlacementNavires:
		s.handlePlacement(msg)
	case protocol.MsgTir:
		s.handleShot(ctx, msg)
	case protocol.MsgChat:
		s.handleChat(msg)
	case protocol.MsgSauvegarderPartie:
		s.handleSave(ctx)
	case protocol.MsgAbandon:
		s.handleAbandon(ctx)
	default:
		s.send(protocol.Erreur("Type de message inconnu: " + msg.Type))
		s.phase = phaseClosed
	}
}

// handleResume restores the saved game. A solo game restarts in place; a
// two-player game goes to the arbiter to wait for the other participant.
func (s *Session) handleResume(ctx context.Context) {
	if s.phase != phaseResumePrompt {
		s.send(protocol.Erreur("Aucune reprise possible maintenant."))
		return
	}

	snap, err := s.users.LoadGame(ctx, s.name)
	if err != nil || snap == nil {
		if err != nil {
			slog.Error("loading saved game", "player", s.name, "err", err)
		}
		s.send(protocol.Erreur("Aucune partie sauvegardée."))
		s.phase = phaseModeSelect
		return
	}
	if snap.Player1.Name != s.name && snap.Player2.Name != s.name {
		s.send(protocol.Erreur("Sauvegarde corrompue."))
		s.phase = phaseModeSelect
		return
	}

	isPlayer1 := snap.Player1.Name == s.name
	opponent := snap.Player2.Name
	if !isPlayer1 {
		opponent = snap.Player1.Name
	}

	if opponent != model.AIName {
		mine := snap.Player2
		if isPlayer1 {
			mine = snap.Player1
		}
		s.mode = protocol.ModeVsPlayer
		s.send(protocol.PartieReprise(mine, snap.Player1Turn == isPlayer1, opponent))
		s.phase = phaseAttending
		if err := s.arbiter.Resume(s, *snap); err != nil {
			slog.Error("resuming multiplayer game", "player", s.name, "err", err)
			s.send(protocol.Erreur("Sauvegarde corrompue."))
			s.phase = phaseModeSelect
		}
		return
	}

	game, err := model.GameFromSnapshot(*snap)
	if err != nil {
		slog.Error("restoring saved game", "player", s.name, "err", err)
		s.send(protocol.Erreur("Sauvegarde corrompue."))
		s.phase = phaseModeSelect
		return
	}
	game.State = model.StateInProgress

	s.mode = protocol.ModeVsServer
	s.game = game
	myTurn := game.IsTurnOf(s.name)
	s.send(protocol.PartieReprise(game.PlayerByName(s.name).Snapshot(), myTurn, opponent))
	s.phase = phasePlaying
	slog.Info("solo game resumed", "player", s.name)
	if !myTurn {
		// The save interrupted the server's turn. Play it now.
		s.aiTurn(ctx)
	}
}

// handleDeclineResume drops the saved game and proceeds to mode selection.
func (s *Session) handleDeclineResume(ctx context.Context) {
	if s.phase != phaseResumePrompt {
		s.send(protocol.Erreur("Aucune reprise en attente."))
		return
	}
	if err := s.users.DeleteSavedGame(ctx, s.name); err != nil {
		slog.Error("deleting saved game", "player", s.name, "err", err)
	}
	s.send(protocol.ConnexionOK("Nouvelle partie.", false))
	s.send(protocol.New(protocol.MsgNouvellePartie))
	s.phase = phaseModeSelect
}

func (s *Session) handleModeChoice(msg protocol.Message) {
	if s.phase != phaseModeSelect {
		s.send(protocol.Erreur("Choix de mode impossible maintenant."))
		return
	}

	switch mode := msg.String("mode"); mode {
	case protocol.ModeVsServer:
		fleet := fleetSpecs(s.cfg.Fleet)
		s.mode = mode
		s.game = model.NewGame(
			model.NewPlayer(s.name, s.cfg.GridSize, fleet),
			model.NewPlayer(model.AIName, s.cfg.GridSize, fleet),
		)
		s.send(protocol.DebutPartie(model.AIName, mode))
		s.phase = phasePlacement
		slog.Info("solo game created", "player", s.name)
	case protocol.ModeVsPlayer:
		s.mode = mode
		s.phase = phaseAttending
		s.arbiter.Enqueue(s)
	default:
		s.send(protocol.Erreur("Mode inconnu: " + mode))
	}
}

func (s *Session) handlePlacement(msg protocol.Message) {
	placements, err := parsePlacements(msg)
	if err != nil {
		s.send(protocol.Erreur("Placement invalide: " + err.Error()))
		return
	}

	switch {
	case s.mode == protocol.ModeVsServer && s.phase == phasePlacement:
		if err := s.game.Player1.PlaceFleet(fleetSpecs(s.cfg.Fleet), placements); err != nil {
			s.send(protocol.Erreur("Placement invalide: " + err.Error()))
			return
		}
		if err := s.game.Start(); err != nil {
			slog.Error("starting solo game", "player", s.name, "err", err)
			s.send(protocol.Erreur("Erreur interne du serveur."))
			s.phase = phaseClosed
			return
		}
		s.send(protocol.New(protocol.MsgPlacementOK))
		s.phase = phasePlaying
		// Player 1 always opens.
		s.send(protocol.New(protocol.MsgVotreTour))

	case s.mode == protocol.ModeVsPlayer:
		if err := s.arbiter.PlaceFleet(s, placements); err != nil {
			s.send(protocol.Erreur("Placement invalide: " + err.Error()))
			return
		}
		s.phase = phasePlaying

	default:
		s.send(protocol.Erreur("Placement impossible maintenant."))
	}
}

// parsePlacements decodes the "navires" payload list.
func parsePlacements(msg protocol.Message) ([]model.ShipPlacement, error) {
	raw, ok := msg.Data["navires"].([]any)
	if !ok {
		return nil, fmt.Errorf(`champ "navires" manquant`)
	}

	placements := make([]model.ShipPlacement, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("navire %d invalide", i)
		}
		name, _ := obj["nom"].(string)
		orientation, _ := obj["orientation"].(string)
		size, okSize := jsonInt(obj["taille"])
		x, okX := jsonInt(obj["x"])
		y, okY := jsonInt(obj["y"])
		if name == "" || !okSize || !okX || !okY {
			return nil, fmt.Errorf("navire %d incomplet", i)
		}
		placements = append(placements, model.ShipPlacement{
			Name:        name,
			Size:        size,
			X:           x,
			Y:           y,
			Orientation: orientation,
		})
	}
	return placements, nil
}

func jsonInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func (s *Session) handleShot(ctx context.Context, msg protocol.Message) {
	x, okX := msg.Int("x")
	y, okY := msg.Int("y")
	if !okX || !okY {
		s.send(protocol.Erreur("Coordonnées de tir manquantes."))
		return
	}

	if s.mode == protocol.ModeVsPlayer {
		s.arbiter.HandleShot(ctx, s, x, y)
		return
	}

	if s.game == nil || s.game.State != model.StateInProgress {
		s.send(protocol.Erreur("Aucune partie en cours."))
		return
	}
	if !s.game.IsTurnOf(s.name) {
		s.send(protocol.Erreur("Ce n'est pas votre tour."))
		return
	}

	result, sunkShip, finished, err := s.game.ApplyShot(x, y)
	if err != nil {
		s.send(protocol.Erreur("Tir impossible."))
		return
	}
	s.send(protocol.ReponseTir(string(result), x, y, sunkShip))
	if finished {
		s.finishSolo(ctx)
		return
	}
	if result == model.ShotRepeat {
		// Turn retained, no counter-shot.
		return
	}
	s.aiTurn(ctx)
}

// aiTurn plays the server's shot on the solo game and reports it, then
// hands the turn back.
func (s *Session) aiTurn(ctx context.Context) {
	ai := s.game.PlayerByName(model.AIName)
	x, y := randomShot(ai)
	result, sunkShip, finished, err := s.game.ApplyShot(x, y)
	if err != nil {
		slog.Error("server shot failed", "player", s.name, "err", err)
		return
	}
	s.send(protocol.ReponseTirRecu(string(result), x, y, model.AIName, sunkShip))
	if finished {
		s.finishSolo(ctx)
		return
	}
	s.send(protocol.New(protocol.MsgVotreTour))
}

// finishSolo announces the winner, drops any saved snapshot of the game
// and ends the session.
func (s *Session) finishSolo(ctx context.Context) {
	winner := s.game.Winner
	text := "Vous avez gagné ! Tous les navires ennemis sont coulés."
	if winner == model.AIName {
		text = "Le serveur a gagné. Tous vos navires sont coulés."
	}
	slog.Info("solo game finished", "player", s.name, "winner", winner)
	s.send(protocol.FinPartieGagnant(winner, text))
	if err := s.users.DeleteSavedGame(ctx, s.name); err != nil {
		slog.Error("deleting saved game", "player", s.name, "err", err)
	}
	s.phase = phaseClosed
}

func (s *Session) handleChat(msg protocol.Message) {
	text := msg.String("message")
	if text == "" {
		return
	}
	if s.mode == protocol.ModeVsPlayer {
		s.arbiter.RelayChat(s, text)
		return
	}
	slog.Debug("chat outside multiplayer dropped", "player", s.name)
}

// handleSave snapshots the running game. In multiplayer the snapshot is
// stored for both participants, so either one can initiate the resume.
func (s *Session) handleSave(ctx context.Context) {
	switch s.mode {
	case protocol.ModeVsServer:
		if s.game == nil || s.game.State != model.StateInProgress {
			s.send(protocol.Erreur("Aucune partie en cours."))
			return
		}
		if err := s.users.SaveGame(ctx, s.name, s.game.Snapshot()); err != nil {
			slog.Error("saving game", "player", s.name, "err", err)
			s.send(protocol.Erreur("Sauvegarde impossible."))
			return
		}
		slog.Info("game saved", "player", s.name)

	case protocol.ModeVsPlayer:
		snap, opponent, ok := s.arbiter.SnapshotFor(s.name)
		if !ok {
			s.send(protocol.Erreur("Aucune partie en cours."))
			return
		}
		if err := s.users.SaveGame(ctx, s.name, snap); err != nil {
			slog.Error("saving game", "player", s.name, "err", err)
			s.send(protocol.Erreur("Sauvegarde impossible."))
			return
		}
		if err := s.users.SaveGame(ctx, opponent, snap); err != nil {
			// The opponent may not be locally registered. The initiator's
			// copy is enough to resume.
			slog.Warn("saving game for opponent", "player", opponent, "err", err)
		}
		slog.Info("game saved", "player", s.name, "opponent", opponent)

	default:
		s.send(protocol.Erreur("Aucune partie en cours."))
	}
}

// handleAbandon forfeits the running game and ends the session.
func (s *Session) handleAbandon(ctx context.Context) {
	switch s.mode {
	case protocol.ModeVsServer:
		if s.game != nil && !s.game.Finished() {
			s.game.Abandon(s.name)
		}
		slog.Info("solo game abandoned", "player", s.name)
		s.send(protocol.FinPartieGagnant(model.AIName, "Vous avez abandonné la partie."))
	case protocol.ModeVsPlayer:
		s.arbiter.HandleAbandon(s)
	default:
		s.send(protocol.Erreur("Aucune partie en cours."))
		return
	}

	if err := s.users.DeleteSavedGame(ctx, s.name); err != nil {
		slog.Error("deleting saved game", "player", s.name, "err", err)
	}
	s.phase = phaseClosed
}
