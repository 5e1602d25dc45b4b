package gameserver

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/seabattle/internal/config"
	"github.com/udisondev/seabattle/internal/model"
	"github.com/udisondev/seabattle/internal/protocol"
	"github.com/udisondev/seabattle/internal/store"
	"github.com/udisondev/seabattle/internal/testutil"
)

func startGameServer(t *testing.T) (string, *store.FileStore) {
	t.Helper()

	users, err := store.OpenFileStore(filepath.Join(t.TempDir(), "users.json"), 4)
	require.NoError(t, err)

	srv := NewServer(config.DefaultServer(), users)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})

	return ln.Addr().String(), users
}

// connect performs the handshake for a player without a saved game.
func connect(t *testing.T, addr, name string) *testutil.Client {
	t.Helper()
	c := testutil.Dial(t, addr)
	c.Send(protocol.MsgConnexion, map[string]any{"nom": name})
	ok := c.Expect(protocol.MsgConnexionOK)
	require.False(t, ok.Bool("reprise"))
	return c
}

// placeDefaultFleet sends the single-Torpilleur placement at (x, y).
func placeDefaultFleet(c *testutil.Client, x, y int) {
	c.Send(protocol.MsgPlacementNavires, map[string]any{
		"navires": []any{map[string]any{
			"nom": "Torpilleur", "taille": 2, "x": x, "y": y, "orientation": "H",
		}},
	})
}

// startSolo runs handshake, mode choice and placement at (0, 0).
func startSolo(t *testing.T, addr, name string) *testutil.Client {
	t.Helper()
	c := connect(t, addr, name)
	c.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsServer})
	debut := c.Expect(protocol.MsgDebutPartie)
	require.Equal(t, model.AIName, debut.String("adversaire"))
	placeDefaultFleet(c, 0, 0)
	c.Expect(protocol.MsgPlacementOK)
	c.Expect(protocol.MsgVotreTour)
	return c
}

func TestGameServer_DuplicateName(t *testing.T) {
	addr, _ := startGameServer(t)

	connect(t, addr, "alice")

	second := testutil.Dial(t, addr)
	second.Send(protocol.MsgConnexion, map[string]any{"nom": "alice"})
	errMsg := second.Expect(protocol.MsgErreur)
	assert.Contains(t, errMsg.String("message"), "déjà connecté")
}

func TestGameServer_HandshakeRequired(t *testing.T) {
	addr, _ := startGameServer(t)

	c := testutil.Dial(t, addr)
	c.Send(protocol.MsgTir, map[string]any{"x": 0, "y": 0})
	c.Expect(protocol.MsgErreur)
}

func TestGameServer_UnknownMode(t *testing.T) {
	addr, _ := startGameServer(t)

	c := connect(t, addr, "alice")
	c.Send(protocol.MsgChoixMode, map[string]any{"mode": "PELICAN"})
	c.Expect(protocol.MsgErreur)
}

func TestGameServer_SoloInvalidPlacement(t *testing.T) {
	addr, _ := startGameServer(t)

	c := connect(t, addr, "alice")
	c.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsServer})
	c.Expect(protocol.MsgDebutPartie)

	// Overhangs the right edge.
	placeDefaultFleet(c, 9, 0)
	c.Expect(protocol.MsgErreur)

	// The session recovers and accepts a valid layout.
	placeDefaultFleet(c, 0, 0)
	c.Expect(protocol.MsgPlacementOK)
	c.Expect(protocol.MsgVotreTour)
}

// TestGameServer_SoloGameToCompletion sweeps the whole board. One side
// must win within 100 shots: either the sweep sinks the server's ship or
// the server's random shots sink the player's first.
func TestGameServer_SoloGameToCompletion(t *testing.T) {
	addr, _ := startGameServer(t)
	c := startSolo(t, addr, "alice")

	ended := false
sweep:
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			c.Send(protocol.MsgTir, map[string]any{"x": x, "y": y})
			c.Expect(protocol.MsgReponseTir)

			msg := c.Recv()
			switch msg.Type {
			case protocol.MsgFinPartie:
				assert.Equal(t, "alice", msg.String("gagnant"))
				ended = true
				break sweep
			case protocol.MsgReponseTirRecu:
				next := c.Recv()
				if next.Type == protocol.MsgFinPartie {
					assert.Equal(t, model.AIName, next.String("gagnant"))
					ended = true
					break sweep
				}
				require.Equal(t, protocol.MsgVotreTour, next.Type)
			default:
				t.Fatalf("unexpected message %s %v", msg.Type, msg.Data)
			}
		}
	}
	assert.True(t, ended, "game should end within one full sweep")
}

func TestGameServer_SoloDuplicateShot(t *testing.T) {
	addr, _ := startGameServer(t)
	c := startSolo(t, addr, "alice")

	c.Send(protocol.MsgTir, map[string]any{"x": 5, "y": 5})
	first := c.Expect(protocol.MsgReponseTir)
	require.NotEqual(t, string(model.ShotRepeat), first.String("resultat"))
	c.Expect(protocol.MsgReponseTirRecu)
	c.Expect(protocol.MsgVotreTour)

	// Same cell again: flagged, no counter-shot, turn retained.
	c.Send(protocol.MsgTir, map[string]any{"x": 5, "y": 5})
	repeat := c.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotRepeat), repeat.String("resultat"))

	// The very next message answers a fresh shot, proving nothing was
	// interleaved and the turn stayed with the player.
	c.Send(protocol.MsgTir, map[string]any{"x": 7, "y": 2})
	fresh := c.Expect(protocol.MsgReponseTir)
	assert.NotEqual(t, string(model.ShotRepeat), fresh.String("resultat"))
}

func TestGameServer_SoloOutOfBoundsShot(t *testing.T) {
	addr, _ := startGameServer(t)
	c := startSolo(t, addr, "alice")

	c.Send(protocol.MsgTir, map[string]any{"x": 42, "y": 7})
	rep := c.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotMiss), rep.String("resultat"))
	c.Expect(protocol.MsgReponseTirRecu)
	c.Expect(protocol.MsgVotreTour)
}

func TestGameServer_SoloAbandon(t *testing.T) {
	addr, _ := startGameServer(t)
	c := startSolo(t, addr, "alice")

	c.Send(protocol.MsgAbandon, nil)
	fin := c.Expect(protocol.MsgFinPartie)
	assert.Equal(t, model.AIName, fin.String("gagnant"))
}

func TestGameServer_Matchmaking(t *testing.T) {
	addr, _ := startGameServer(t)

	alice := connect(t, addr, "alice")
	alice.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	alice.Expect(protocol.MsgAttenteAdversaire)

	bob := connect(t, addr, "bob")
	bob.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	found := bob.Expect(protocol.MsgAdversaireTrouve)
	assert.Equal(t, "alice", found.String("adversaire"))

	found = alice.Expect(protocol.MsgAdversaireTrouve)
	assert.Equal(t, "bob", found.String("adversaire"))

	// Shooting before both fleets are placed is refused.
	bob.Send(protocol.MsgTir, map[string]any{"x": 0, "y": 0})
	bob.Expect(protocol.MsgErreur)

	placeDefaultFleet(alice, 0, 0)
	alice.Expect(protocol.MsgPlacementOK)

	placeDefaultFleet(bob, 4, 4)
	bob.Expect(protocol.MsgPlacementOK)

	// Second placement starts the game. Alice queued first, so she opens.
	debut := bob.Expect(protocol.MsgDebutPartie)
	assert.Equal(t, "alice", debut.String("adversaire"))
	assert.Equal(t, protocol.ModeVsPlayer, debut.String("mode"))
	bob.Expect(protocol.MsgTourAdversaire)

	debut = alice.Expect(protocol.MsgDebutPartie)
	assert.Equal(t, "bob", debut.String("adversaire"))
	alice.Expect(protocol.MsgVotreTour)

	// Out-of-turn shot: the server's turn state is authoritative.
	bob.Send(protocol.MsgTir, map[string]any{"x": 3, "y": 3})
	errMsg := bob.Expect(protocol.MsgErreur)
	assert.Contains(t, errMsg.String("message"), "votre tour")

	// Alice hits bob's Torpilleur at (4, 4).
	alice.Send(protocol.MsgTir, map[string]any{"x": 4, "y": 4})
	rep := alice.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotHit), rep.String("resultat"))
	alice.Expect(protocol.MsgTourAdversaire)

	recu := bob.Expect(protocol.MsgReponseTirRecu)
	assert.Equal(t, "alice", recu.String("adversaire"))
	bob.Expect(protocol.MsgVotreTour)

	// Chat reaches the opponent only.
	bob.Send(protocol.MsgChat, map[string]any{"message": "bien joué"})
	chat := alice.Expect(protocol.MsgChatGlobal)
	assert.Equal(t, "bob", chat.String("envoyeur"))
	assert.Equal(t, "bien joué", chat.String("message"))

	// Bob misses.
	bob.Send(protocol.MsgTir, map[string]any{"x": 9, "y": 9})
	rep = bob.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotMiss), rep.String("resultat"))
	bob.Expect(protocol.MsgTourAdversaire)
	alice.Expect(protocol.MsgReponseTirRecu)
	alice.Expect(protocol.MsgVotreTour)

	// Alice sinks the last ship and wins.
	alice.Send(protocol.MsgTir, map[string]any{"x": 5, "y": 4})
	rep = alice.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotSunk), rep.String("resultat"))
	assert.Equal(t, "Torpilleur", rep.String("bateau_coule"))
	fin := alice.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusVictory, fin.String("status"))

	bob.Expect(protocol.MsgReponseTirRecu)
	fin = bob.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusDefeat, fin.String("status"))
}

func TestGameServer_OpponentDisconnect(t *testing.T) {
	addr, users := startGameServer(t)
	ctx := context.Background()

	alice := connect(t, addr, "alice")
	alice.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	alice.Expect(protocol.MsgAttenteAdversaire)

	bob := connect(t, addr, "bob")
	bob.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	bob.Expect(protocol.MsgAdversaireTrouve)
	alice.Expect(protocol.MsgAdversaireTrouve)

	placeDefaultFleet(alice, 0, 0)
	alice.Expect(protocol.MsgPlacementOK)
	placeDefaultFleet(bob, 4, 4)
	bob.Expect(protocol.MsgPlacementOK)
	bob.Expect(protocol.MsgDebutPartie)
	bob.Expect(protocol.MsgTourAdversaire)
	alice.Expect(protocol.MsgDebutPartie)
	alice.Expect(protocol.MsgVotreTour)

	// An unrelated saved game of bob's must survive his disconnect.
	require.NoError(t, users.Register(ctx, "bob", "pass"))
	require.NoError(t, users.SaveGame(ctx, "bob", soloSnapshot(t, "bob")))

	bob.Close()

	fin := alice.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusVictory, fin.String("status"))
	assert.Contains(t, fin.String("message"), "déconnecté")

	has, err := users.HasSavedGame(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, has)
}

// soloSnapshot builds a paused solo game for the named player.
func soloSnapshot(t *testing.T, name string) model.GameSnapshot {
	t.Helper()
	fleet := []model.ShipSpec{{Name: "Torpilleur", Size: 2}}
	g := model.NewGame(model.NewPlayer(name, 10, fleet), model.NewPlayer(model.AIName, 10, fleet))
	require.NoError(t, g.Start())
	return g.Snapshot()
}

func TestGameServer_DeclineResume(t *testing.T) {
	addr, users := startGameServer(t)
	ctx := context.Background()

	require.NoError(t, users.Register(ctx, "alice", "pass"))
	require.NoError(t, users.SaveGame(ctx, "alice", soloSnapshot(t, "alice")))

	c := testutil.Dial(t, addr)
	c.Send(protocol.MsgConnexion, map[string]any{"nom": "alice"})
	ok := c.Expect(protocol.MsgConnexionOK)
	require.True(t, ok.Bool("reprise"))

	c.Send(protocol.MsgNouvellePartie, nil)
	c.Expect(protocol.MsgConnexionOK)
	c.Expect(protocol.MsgNouvellePartie)

	has, err := users.HasSavedGame(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, has)

	// The session proceeds to a normal mode choice.
	c.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsServer})
	c.Expect(protocol.MsgDebutPartie)
}

func TestGameServer_SaveAndResumeSolo(t *testing.T) {
	addr, users := startGameServer(t)
	ctx := context.Background()

	require.NoError(t, users.Register(ctx, "alice", "pass"))

	c := startSolo(t, addr, "alice")
	c.Send(protocol.MsgTir, map[string]any{"x": 9, "y": 9})
	c.Expect(protocol.MsgReponseTir)
	c.Expect(protocol.MsgReponseTirRecu)
	c.Expect(protocol.MsgVotreTour)

	c.Send(protocol.MsgSauvegarderPartie, nil)
	c.Send(protocol.MsgDeconnexion, nil)
	c.Close()

	require.Eventually(t, func() bool {
		has, err := users.HasSavedGame(ctx, "alice")
		return err == nil && has
	}, 2*time.Second, 10*time.Millisecond)

	// Reconnect and pick the game back up.
	c2 := testutil.Dial(t, addr)
	c2.Send(protocol.MsgConnexion, map[string]any{"nom": "alice"})
	ok := c2.Expect(protocol.MsgConnexionOK)
	require.True(t, ok.Bool("reprise"))

	c2.Send(protocol.MsgReprendrePartie, nil)
	reprise := c2.Expect(protocol.MsgPartieReprise)
	assert.Equal(t, model.AIName, reprise.String("nom_adversaire"))
	assert.True(t, reprise.Bool("est_mon_tour"))
	assert.NotNil(t, reprise.Data["joueur_etat"])

	c2.Send(protocol.MsgTir, map[string]any{"x": 8, "y": 8})
	c2.Expect(protocol.MsgReponseTir)
}

// TestGameServer_ResumeSoloFinish restores a crafted snapshot where one
// shot sinks the server's last ship.
func TestGameServer_ResumeSoloFinish(t *testing.T) {
	addr, users := startGameServer(t)
	ctx := context.Background()

	fleet := []model.ShipSpec{{Name: "Torpilleur", Size: 2}}
	alice := model.NewPlayer("alice", 10, fleet)
	ai := model.NewPlayer(model.AIName, 10, fleet)
	require.True(t, alice.PlaceShip(alice.Ships[0], 0, 0, model.Horizontal))
	require.True(t, ai.PlaceShip(ai.Ships[0], 4, 4, model.Horizontal))
	g := model.NewGame(alice, ai)
	g.State = model.StateInProgress
	mustShot(t, g, 4, 4) // alice hits
	mustShot(t, g, 9, 9) // server misses, alice's turn again

	require.NoError(t, users.Register(ctx, "alice", "pass"))
	require.NoError(t, users.SaveGame(ctx, "alice", g.Snapshot()))

	c := testutil.Dial(t, addr)
	c.Send(protocol.MsgConnexion, map[string]any{"nom": "alice"})
	require.True(t, c.Expect(protocol.MsgConnexionOK).Bool("reprise"))

	c.Send(protocol.MsgReprendrePartie, nil)
	reprise := c.Expect(protocol.MsgPartieReprise)
	require.True(t, reprise.Bool("est_mon_tour"))

	c.Send(protocol.MsgTir, map[string]any{"x": 5, "y": 4})
	rep := c.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotSunk), rep.String("resultat"))
	assert.Equal(t, "Torpilleur", rep.String("bateau_coule"))
	fin := c.Expect(protocol.MsgFinPartie)
	assert.Equal(t, "alice", fin.String("gagnant"))

	// Finishing the game clears the stale snapshot.
	require.Eventually(t, func() bool {
		has, err := users.HasSavedGame(ctx, "alice")
		return err == nil && !has
	}, 2*time.Second, 10*time.Millisecond)
}

func mustShot(t *testing.T, g *model.Game, x, y int) {
	t.Helper()
	_, _, _, err := g.ApplyShot(x, y)
	require.NoError(t, err)
}

func TestGameServer_ResumeTwoPlayerGame(t *testing.T) {
	addr, users := startGameServer(t)
	ctx := context.Background()

	fleet := []model.ShipSpec{{Name: "Torpilleur", Size: 2}}
	p1 := model.NewPlayer("alice", 10, fleet)
	p2 := model.NewPlayer("bob", 10, fleet)
	require.True(t, p1.PlaceShip(p1.Ships[0], 0, 0, model.Horizontal))
	require.True(t, p2.PlaceShip(p2.Ships[0], 4, 4, model.Horizontal))
	g := model.NewGame(p1, p2)
	g.State = model.StateInProgress
	mustShot(t, g, 4, 4) // alice hits bob
	mustShot(t, g, 9, 9) // bob misses, alice's turn again
	snap := g.Snapshot()

	require.NoError(t, users.Register(ctx, "alice", "pass"))
	require.NoError(t, users.Register(ctx, "bob", "pass"))
	require.NoError(t, users.SaveGame(ctx, "alice", snap))
	require.NoError(t, users.SaveGame(ctx, "bob", snap))

	alice := testutil.Dial(t, addr)
	alice.Send(protocol.MsgConnexion, map[string]any{"nom": "alice"})
	require.True(t, alice.Expect(protocol.MsgConnexionOK).Bool("reprise"))
	alice.Send(protocol.MsgReprendrePartie, nil)
	reprise := alice.Expect(protocol.MsgPartieReprise)
	assert.Equal(t, "bob", reprise.String("nom_adversaire"))
	assert.True(t, reprise.Bool("est_mon_tour"))
	alice.Expect(protocol.MsgAttenteAdversaire)

	bob := testutil.Dial(t, addr)
	bob.Send(protocol.MsgConnexion, map[string]any{"nom": "bob"})
	require.True(t, bob.Expect(protocol.MsgConnexionOK).Bool("reprise"))
	bob.Send(protocol.MsgReprendrePartie, nil)
	reprise = bob.Expect(protocol.MsgPartieReprise)
	assert.Equal(t, "alice", reprise.String("nom_adversaire"))
	assert.False(t, reprise.Bool("est_mon_tour"))

	// The second resume restarts the game for both sides.
	debut := bob.Expect(protocol.MsgDebutPartie)
	assert.Equal(t, "alice", debut.String("adversaire"))
	bob.Expect(protocol.MsgTourAdversaire)

	debut = alice.Expect(protocol.MsgDebutPartie)
	assert.Equal(t, "bob", debut.String("adversaire"))
	alice.Expect(protocol.MsgVotreTour)

	// Alice finishes what she started.
	alice.Send(protocol.MsgTir, map[string]any{"x": 5, "y": 4})
	rep := alice.Expect(protocol.MsgReponseTir)
	assert.Equal(t, string(model.ShotSunk), rep.String("resultat"))
	fin := alice.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusVictory, fin.String("status"))

	bob.Expect(protocol.MsgReponseTirRecu)
	fin = bob.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusDefeat, fin.String("status"))

	require.Eventually(t, func() bool {
		hasA, errA := users.HasSavedGame(ctx, "alice")
		hasB, errB := users.HasSavedGame(ctx, "bob")
		return errA == nil && errB == nil && !hasA && !hasB
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGameServer_AbandonMultiplayer(t *testing.T) {
	addr, _ := startGameServer(t)

	alice := connect(t, addr, "alice")
	alice.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	alice.Expect(protocol.MsgAttenteAdversaire)

	bob := connect(t, addr, "bob")
	bob.Send(protocol.MsgChoixMode, map[string]any{"mode": protocol.ModeVsPlayer})
	bob.Expect(protocol.MsgAdversaireTrouve)
	alice.Expect(protocol.MsgAdversaireTrouve)

	placeDefaultFleet(alice, 0, 0)
	alice.Expect(protocol.MsgPlacementOK)
	placeDefaultFleet(bob, 4, 4)
	bob.Expect(protocol.MsgPlacementOK)
	bob.Expect(protocol.MsgDebutPartie)
	bob.Expect(protocol.MsgTourAdversaire)
	alice.Expect(protocol.MsgDebutPartie)
	alice.Expect(protocol.MsgVotreTour)

	bob.Send(protocol.MsgAbandon, nil)
	fin := bob.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusDefeat, fin.String("status"))

	fin = alice.Expect(protocol.MsgFinPartie)
	assert.Equal(t, protocol.StatusVictory, fin.String("status"))
	assert.Contains(t, fin.String("message"), "abandonné")
}
