package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged on the gameplay stream.
// Direction: C = client→server, S = server→client.
const (
	MsgConnexion         = "CONNEXION"          // C {nom}
	MsgConnexionOK       = "CONNEXION_OK"       // S {message, reprise?}
	MsgDeconnexion       = "DECONNEXION"        // C {}
	MsgErreur            = "ERREUR"             // S {message}
	MsgChoixMode         = "CHOIX_MODE"         // C {mode}
	MsgAttenteAdversaire = "ATTENTE_ADVERSAIRE" // S {}
	MsgAdversaireTrouve  = "ADVERSAIRE_TROUVE"  // S {adversaire}
	MsgPlacementNavires  = "PLACEMENT_NAVIRES"  // C {navires: [...]}
	MsgPlacementOK       = "PLACEMENT_OK"       // S {}
	MsgDebutPartie       = "DEBUT_PARTIE"       // S {adversaire?, mode?}
	MsgVotreTour         = "VOTRE_TOUR"         // S {}
	MsgTourAdversaire    = "TOUR_ADVERSAIRE"    // S {}
	MsgTir               = "TIR"                // C {x, y}
	MsgReponseTir        = "REPONSE_TIR"        // S {resultat, x, y, bateau_coule?}
	MsgReponseTirRecu    = "REPONSE_TIR_RECU"   // S {resultat, x, y, adversaire, bateau_coule?}
	MsgFinPartie         = "FIN_PARTIE"         // S {gagnant|status, message}
	MsgAbandon           = "ABANDON"            // C {}
	MsgChat              = "CHAT"               // C {message}
	MsgChatGlobal        = "CHAT_GLOBAL"        // S {envoyeur, message}
	MsgReprendrePartie   = "REPRENDRE_PARTIE"   // C {}
	MsgNouvellePartie    = "NOUVELLE_PARTIE"    // C {} / S {}
	MsgPartieReprise     = "PARTIE_REPRISE"     // S {joueur_etat, est_mon_tour, nom_adversaire}
	MsgSauvegarderPartie = "SAUVEGARDER_PARTIE" // C {}
)

// Auth datagram tokens.
const (
	AuthLogin    = "AUTH_LOGIN"
	AuthRegister = "AUTH_REGISTER"
	AuthSuccess  = "AUTH_SUCCESS"
	AuthFailed   = "AUTH_FAILED"

	SavedGameExists = "PARTIE_SAUVEGARDEE_EXISTE"
	NoSavedGame     = "NOUVELLE_PARTIE"

	AuthSeparator = "|"
)

// Game modes.
const (
	ModeVsServer = "VS_SERVEUR"
	ModeVsPlayer = "VS_JOUEUR"
)

// End-of-game statuses for PvP.
const (
	StatusVictory = "VICTOIRE"
	StatusDefeat  = "DEFAITE"
)

// Message is one framed unit on the gameplay stream: a typed tag plus a
// free-form JSON object payload.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// New builds a message with an empty payload.
func New(msgType string) Message {
	return Message{Type: msgType, Data: map[string]any{}}
}

// NewWith builds a message with the given payload.
func NewWith(msgType string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{Type: msgType, Data: data}
}

// Marshal encodes the message as UTF-8 JSON.
func (m Message) Marshal() ([]byte, error) {
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s message: %w", m.Type, err)
	}
	return b, nil
}

// Unmarshal decodes a message from JSON. A payload without a type is refused.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshaling message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message without type")
	}
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	return m, nil
}

// String returns the string payload field, or "" when absent.
func (m Message) String(key string) string {
	s, _ := m.Data[key].(string)
	return s
}

// Int returns the integer payload field. JSON numbers decode as float64.
func (m Message) Int(key string) (int, bool) {
	switch v := m.Data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Bool returns the boolean payload field, or false when absent.
func (m Message) Bool(key string) bool {
	b, _ := m.Data[key].(bool)
	return b
}

// Erreur builds the standard error reply.
func Erreur(text string) Message {
	return NewWith(MsgErreur, map[string]any{"message": text})
}

// ConnexionOK builds the handshake acknowledgement. reprise signals a
// saved game waiting for this player.
func ConnexionOK(text string, reprise bool) Message {
	data := map[string]any{"message": text}
	if reprise {
		data["reprise"] = true
	}
	return NewWith(MsgConnexionOK, data)
}

// AdversaireTrouve tells a queued player who it was paired with.
func AdversaireTrouve(opponent string) Message {
	return NewWith(MsgAdversaireTrouve, map[string]any{"adversaire": opponent})
}

// DebutPartie announces the start of a game. Both fields are optional.
func DebutPartie(opponent, mode string) Message {
	data := map[string]any{}
	if opponent != "" {
		data["adversaire"] = opponent
	}
	if mode != "" {
		data["mode"] = mode
	}
	return NewWith(MsgDebutPartie, data)
}

// ReponseTir reports the shooter's own shot result.
func ReponseTir(result string, x, y int, sunkShip string) Message {
	data := map[string]any{"resultat": result, "x": x, "y": y}
	if sunkShip != "" {
		data["bateau_coule"] = sunkShip
	}
	return NewWith(MsgReponseTir, data)
}

// ReponseTirRecu reports an incoming shot to its target.
func ReponseTirRecu(result string, x, y int, shooter, sunkShip string) Message {
	data := map[string]any{"resultat": result, "x": x, "y": y, "adversaire": shooter}
	if sunkShip != "" {
		data["bateau_coule"] = sunkShip
	}
	return NewWith(MsgReponseTirRecu, data)
}

// FinPartieGagnant ends a solo game, naming the winner.
func FinPartieGagnant(winner, text string) Message {
	return NewWith(MsgFinPartie, map[string]any{"gagnant": winner, "message": text})
}

// FinPartieStatus ends a PvP game with VICTOIRE or DEFAITE.
func FinPartieStatus(status, text string) Message {
	return NewWith(MsgFinPartie, map[string]any{"status": status, "message": text})
}

// ChatGlobal relays a chat line to the opponent.
func ChatGlobal(sender, text string) Message {
	return NewWith(MsgChatGlobal, map[string]any{"envoyeur": sender, "message": text})
}

// PartieReprise carries the reconstructed player state after a resume.
func PartieReprise(playerState any, myTurn bool, opponent string) Message {
	return NewWith(MsgPartieReprise, map[string]any{
		"joueur_etat":    playerState,
		"est_mon_tour":   myTurn,
		"nom_adversaire": opponent,
	})
}
