// Sexygame party session
//
// One session per deployment: a group of players, one game-master device,
// and a shared session record that everyone's device converges on. The
// game master walks the group through truth rounds, dare rounds, and
// secret match/mismatch rounds, either by hand or on an automatic
// sequence.
//
// Features:
// - WebSocket per device: /party and /party/ws
// - Devices identified by cookie (playerID)
// - The device joining under the configured admin name becomes game master
// - Access code gate for joining players (case-insensitive)
// - Turn-based truth/dare rounds with approval voting and scoring
// - Couples-aware secret pairing for match rounds; each player only sees
//   their own partner, the game master sees the full mapping
// - Bot filler player keeps the roster even for pairing
// - Auto-advance once a round's submissions are complete, after a grace
//   delay, cancelled whenever the record changes underneath it
// - In-browser QR button to share the session, backed by go-qrcode
//
// All game state lives in the session document; this file only moves
// messages between devices and the state machine.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is every message a device can send, tagged by Type.
type ClientMessage struct {
	Type         string `json:"type"`                   // "join", "rename", "leave", "answer", "vote", admin commands
	Name         string `json:"name,omitempty"`         // join / rename
	Gender       string `json:"gender,omitempty"`       // join
	Relationship string `json:"relationship,omitempty"` // join
	CoupleID     string `json:"couple_id,omitempty"`    // join
	Code         string `json:"code,omitempty"`         // join / set_code
	Value        string `json:"value,omitempty"`        // answer / vote
	Level        string `json:"level,omitempty"`        // start_round
	Kind         string `json:"kind,omitempty"`         // start_round
	Auto         bool   `json:"auto,omitempty"`         // start_round
	Truths       int    `json:"truths,omitempty"`       // start_round (auto)
	Dares        int    `json:"dares,omitempty"`        // start_round (auto)
	Matches      int    `json:"matches,omitempty"`      // start_round (auto)
	Target       string `json:"target,omitempty"`       // kick
}

// SessionInfoMessage is sent immediately on connect so the client knows
// whether this cookie already has a player and what role it holds.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	Mode       string `json:"mode"`
	IsExisting bool   `json:"is_existing"`
	IsAdmin    bool   `json:"is_admin"`
	Name       string `json:"name,omitempty"`
}

// PlayerView is the roster entry every device may see.
type PlayerView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Gender       string `json:"gender"`
	Relationship string `json:"relationship"`
	Bot          bool   `json:"bot"`
	Points       int    `json:"points"`
	Matched      int    `json:"matched"`
	Mismatched   int    `json:"mismatched"`
}

// StateMessage is the personalized session snapshot broadcast after every
// change. Prompt and Partners differ per recipient; everything else is
// shared.
type StateMessage struct {
	Type        string             `json:"type"` // "state"
	Mode        string             `json:"mode"`
	Kind        string             `json:"kind,omitempty"`
	Level       string             `json:"level,omitempty"`
	Auto        bool               `json:"auto"`
	AutoSeq     []string           `json:"auto_seq,omitempty"`
	AutoCursor  int                `json:"auto_cursor"`
	Ending      bool               `json:"ending"`
	CodeSet     bool               `json:"code_set"`
	ActiveID    string             `json:"active_id,omitempty"`
	ActiveName  string             `json:"active_name,omitempty"`
	Prompt      string             `json:"prompt,omitempty"`
	Players     []PlayerView       `json:"players"`
	Answered    []string           `json:"answered,omitempty"`
	Voted       []string           `json:"voted,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	History     []MatchRecord      `json:"history,omitempty"`
	Partners    []PartnerSummary   `json:"partners,omitempty"`
}

// PartnerMessage tells one player who their secret partner is for the
// active match round. Only that player receives it.
type PartnerMessage struct {
	Type        string `json:"type"` // "partner"
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name"`
	Prompt      string `json:"prompt"`
}

// AdminViewMessage is sent only to the game master: the full pairing and
// the raw submissions for the active unit.
type AdminViewMessage struct {
	Type    string            `json:"type"` // "admin_view"
	Pairs   map[string]string `json:"pairs,omitempty"`
	Answers map[string]string `json:"answers,omitempty"`
	Votes   map[string]string `json:"votes,omitempty"`
}

// NoticeMessage carries a user-facing notice to a single device:
// precondition failures, content exhaustion, wrong code.
type NoticeMessage struct {
	Type    string `json:"type"` // "notice"
	Message string `json:"message"`
}

// SimpleMessage is for generic notifications ("kicked", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type clientAction struct {
	client *Client
	msg    ClientMessage
}

// Hub is the single orchestration writer for the session: every admin
// command and every broadcast runs on its loop goroutine. Player answer
// and vote submissions also pass through here, but they reduce to
// single-key store updates so their ordering never corrupts a transition.
type Hub struct {
	cfg   *Config
	game  *Game
	store *Store

	clients  map[*Client]bool
	register chan *Client
	unreg    chan *Client
	acts     chan clientAction

	// wake coalesces store change notifications; fire delivers the
	// auto-advance timer.
	wake chan struct{}
	fire chan struct{}

	// done is closed when the run loop exits, so pumps blocked on the
	// unbuffered channels above can bail out instead of leaking.
	done chan struct{}

	timer *time.Timer
}

func newHub(cfg *Config, store *Store, game *Game) *Hub {
	h := &Hub{
		cfg:      cfg,
		game:     game,
		store:    store,
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		acts:     make(chan clientAction),
		wake:     make(chan struct{}, 1),
		fire:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	store.Subscribe(func() {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	})

	return h
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.sendSessionInfo(ctx, c)
			h.broadcastState(ctx)

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case act := <-h.acts:
			h.handleAction(ctx, act)

		case <-h.wake:
			h.broadcastState(ctx)
			h.rearmTimer(ctx)

		case <-h.fire:
			h.timer = nil
			h.fireAdvance(ctx)

		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				close(c.send)
				_ = c.conn.Close()
				delete(h.clients, c)
			}
			return
		}
	}
}

func (h *Hub) sendSessionInfo(ctx context.Context, c *Client) {
	sess, err := h.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return
	}
	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		return
	}

	existing, isExisting := playerByID(players, c.playerID)

	info := SessionInfoMessage{
		Type:       "session_info",
		Mode:       sess.Mode,
		IsExisting: isExisting,
		IsAdmin:    sess.AdminID != "" && sess.AdminID == c.playerID,
		Name:       existing.Name,
	}

	select {
	case c.send <- info:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) handleAction(ctx context.Context, act clientAction) {
	c := act.client
	msg := act.msg

	if c.playerID == "" {
		return
	}

	sess, err := h.store.LoadSession(ctx, sessionKey)
	if err != nil {
		h.notice(c, "The game is temporarily unavailable; please try again.")
		return
	}
	isAdmin := sess.AdminID != "" && sess.AdminID == c.playerID

	switch msg.Type {
	case "join":
		h.handleJoin(ctx, sess, c, msg)

	case "rename":
		h.handleRename(ctx, c, msg)

	case "leave":
		if err := h.store.DeletePlayer(ctx, c.playerID); err != nil {
			h.notice(c, "The game is temporarily unavailable; please try again.")
		}

	case "answer":
		if err := h.game.SubmitAnswer(ctx, c.playerID, msg.Value); err != nil && !errors.Is(err, errWrongMode) {
			h.notice(c, "Your answer could not be recorded; please try again.")
		}

	case "vote":
		if err := h.game.SubmitVote(ctx, c.playerID, msg.Value); err != nil && !errors.Is(err, errWrongMode) {
			h.notice(c, "Your vote could not be recorded; please try again.")
		}

	case "set_code":
		if !isAdmin {
			return
		}
		if err := h.store.SetSessionKey(ctx, sessionKey, "$.code", msg.Code); err != nil {
			h.notice(c, "The game is temporarily unavailable; please try again.")
		}

	case "kick":
		if !isAdmin || msg.Target == "" {
			return
		}
		h.kick(ctx, msg.Target)

	case "start_game":
		if !isAdmin {
			return
		}
		err := h.game.StartGame(ctx)
		h.reportTransition(c, err)
		if err == nil {
			logf(h.cfg, "GAME: Game started by %s", c.playerID)
		}

	case "start_round":
		if !isAdmin {
			return
		}
		h.reportTransition(c, h.game.StartRound(ctx, StartRoundRequest{
			Level:   msg.Level,
			Kind:    msg.Kind,
			Auto:    msg.Auto,
			Truths:  msg.Truths,
			Dares:   msg.Dares,
			Matches: msg.Matches,
		}))

	case "advance":
		if !isAdmin {
			return
		}
		h.reportTransition(c, h.game.Advance(ctx))

	case "end_game":
		if !isAdmin {
			return
		}
		h.reportTransition(c, h.game.EndGame(ctx))

	case "reset":
		if !isAdmin {
			return
		}
		err := h.game.Reset(ctx)
		h.reportTransition(c, err)
		if err == nil {
			logf(h.cfg, "GAME: Session reset by %s", c.playerID)
		}

	default:
		// ignore unknown types
	}
}

func (h *Hub) handleJoin(ctx context.Context, sess *Session, c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return
	}

	// The admin sentinel claims the game-master role instead of a roster
	// slot.
	if strings.EqualFold(name, h.cfg.adminName) {
		if err := h.store.SetSessionKey(ctx, sessionKey, "$.adminId", c.playerID); err != nil {
			h.notice(c, "The game is temporarily unavailable; please try again.")
			return
		}
		h.sendSessionInfo(ctx, c)
		logf(h.cfg, "GAME: Game master connected (%s)", c.playerID)
		return
	}

	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		h.notice(c, "The game is temporarily unavailable; please try again.")
		return
	}

	if existing, ok := playerByID(players, c.playerID); ok {
		existing.Name = name
		if err := h.store.PutPlayer(ctx, &existing); err != nil {
			h.notice(c, "The game is temporarily unavailable; please try again.")
		}
		return
	}

	if sess.Mode != modeLobby {
		h.notice(c, "The game is already running; wait for the next session.")
		return
	}
	if sess.Code != "" && !strings.EqualFold(msg.Code, sess.Code) {
		h.notice(c, errWrongCode.Error())
		return
	}
	if msg.Gender != genderMale && msg.Gender != genderFemale {
		h.notice(c, "Please pick a gender so challenges can be filtered for you.")
		return
	}
	relationship := msg.Relationship
	if relationship == "" {
		relationship = relationshipSingle
	}
	if relationship != relationshipSingle && relationship != relationshipCouple {
		return
	}
	if relationship == relationshipCouple && msg.CoupleID == "" {
		h.notice(c, "Couples need a shared couple name.")
		return
	}

	for _, p := range players {
		if strings.EqualFold(p.Name, name) {
			h.notice(c, "That name is already taken. Please choose a different one.")
			return
		}
	}

	player := Player{
		ID:           c.playerID,
		Name:         name,
		Gender:       msg.Gender,
		Relationship: relationship,
		CoupleID:     msg.CoupleID,
		Active:       true,
		JoinedAt:     time.Now(),
	}
	if err := h.store.PutPlayer(ctx, &player); err != nil {
		h.notice(c, "The game is temporarily unavailable; please try again.")
		return
	}
	logf(h.cfg, "GAME: Player %q joined (%d on roster)", name, humanCount(players)+1)
}

func (h *Hub) handleRename(ctx context.Context, c *Client, msg ClientMessage) {
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return
	}

	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		return
	}
	existing, ok := playerByID(players, c.playerID)
	if !ok {
		return
	}

	existing.Name = name
	if err := h.store.PutPlayer(ctx, &existing); err != nil {
		h.notice(c, "The game is temporarily unavailable; please try again.")
	}
}

func (h *Hub) kick(ctx context.Context, targetID string) {
	if err := h.store.DeletePlayer(ctx, targetID); err != nil {
		return
	}

	for client := range h.clients {
		if client.playerID == targetID {
			select {
			case client.send <- SimpleMessage{
				Type:    "kicked",
				Message: "You have been removed by the game master.",
			}:
			default:
			}
		}
	}
}

// reportTransition maps the state machine's error taxonomy onto notices.
// A nil error needs no message; the state broadcast carries the outcome.
func (h *Hub) reportTransition(c *Client, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, errNoEligibleContent):
		h.notice(c, "No unplayed challenges are left for these filters.")
	case errors.Is(err, errWrongMode):
		// A concurrent writer already handled it; nothing to report.
	case errors.Is(err, errInsufficientPlayers),
		errors.Is(err, errIncompleteContent),
		errors.Is(err, errIncompleteCouples),
		errors.Is(err, errLevelRequired),
		errors.Is(err, errKindRequired),
		errors.Is(err, errMatchNeedsPlayers):
		h.notice(c, err.Error())
	default:
		logf(h.cfg, "GAME: transition error: %v", err)
		h.notice(c, "The game is temporarily unavailable; please try again.")
	}
}

func (h *Hub) notice(c *Client, message string) {
	select {
	case c.send <- NoticeMessage{Type: "notice", Message: message}:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcastState rebuilds the personalized snapshot for every connected
// device from the stored documents.
func (h *Hub) broadcastState(ctx context.Context) {
	sess, err := h.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return
	}
	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		return
	}

	views := make([]PlayerView, 0, len(players))
	for _, p := range players {
		views = append(views, PlayerView{
			ID:           p.ID,
			Name:         p.Name,
			Gender:       p.Gender,
			Relationship: p.Relationship,
			Bot:          p.Bot,
			Points:       sess.Points[p.ID],
			Matched:      p.Matched,
			Mismatched:   p.Mismatched,
		})
	}

	base := StateMessage{
		Type:        "state",
		Mode:        sess.Mode,
		Level:       sess.Level,
		Auto:        sess.Auto,
		AutoSeq:     sess.AutoSeq,
		AutoCursor:  sess.AutoCursor,
		Ending:      sess.Ending,
		CodeSet:     sess.Code != "",
		Players:     views,
		Answered:    submittedIDs(sess.Answers),
		Voted:       submittedIDs(sess.Votes),
		Leaderboard: leaderboard(players, sess.Points),
		History:     sess.History,
	}

	var item *Challenge
	var pairItem *PairChallenge
	if isRoundMode(sess.Mode) {
		base.Kind = kindForMode(sess.Mode)
		if sess.Turn >= 0 && sess.Turn < len(players) && sess.Mode != modeMatchRound {
			base.ActiveID = players[sess.Turn].ID
			base.ActiveName = players[sess.Turn].Name
		}
		if sess.CurrentItem != "" {
			if sess.Mode == modeMatchRound {
				pairItem, _ = h.store.GetPairChallenge(ctx, sess.CurrentItem)
			} else {
				item, _ = h.store.GetChallenge(ctx, sess.CurrentItem)
			}
		}
	}
	if item != nil {
		base.Prompt = item.Text
	}

	for client := range h.clients {
		state := base

		recipient, onRoster := playerByID(players, client.playerID)
		if onRoster {
			state.Partners = summarizePartners(sess.History, client.playerID)
			if pairItem != nil {
				state.Prompt = pairItem.text(recipient.Gender)
			}
		} else if pairItem != nil {
			state.Prompt = pairItem.TextMale
		}

		select {
		case client.send <- state:
		default:
			delete(h.clients, client)
			close(client.send)
			continue
		}

		if pairItem != nil && onRoster {
			if partnerID, ok := sess.Pairs[client.playerID]; ok {
				if partner, found := playerByID(players, partnerID); found {
					select {
					case client.send <- PartnerMessage{
						Type:        "partner",
						PartnerID:   partner.ID,
						PartnerName: partner.Name,
						Prompt:      pairItem.text(recipient.Gender),
					}:
					default:
					}
				}
			}
		}

		if sess.AdminID != "" && client.playerID == sess.AdminID && isRoundMode(sess.Mode) {
			select {
			case client.send <- AdminViewMessage{
				Type:    "admin_view",
				Pairs:   sess.Pairs,
				Answers: sess.Answers,
				Votes:   sess.Votes,
			}:
			default:
			}
		}
	}
}

func submittedIDs(m map[string]string) []string {
	ids := make([]string, 0, len(m))
	for id, v := range m {
		if v != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// rearmTimer is the auto-advance trigger. Any store change lands here:
// a pending timer is always cancelled first, then re-armed only if the
// completion threshold holds for the current round. At most one timer is
// pending at a time.
func (h *Hub) rearmTimer(ctx context.Context) {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}

	sess, err := h.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return
	}
	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		return
	}
	if !roundComplete(sess, players) {
		return
	}

	h.timer = time.AfterFunc(h.cfg.advanceDelay, func() {
		select {
		case h.fire <- struct{}{}:
		default:
		}
	})
}

// fireAdvance re-checks the threshold at fire time; the record may have
// changed since the timer was armed. Advance itself is additionally
// guarded by a compare-and-swap on the mode, so even a stale fire cannot
// double-apply a transition.
func (h *Hub) fireAdvance(ctx context.Context) {
	sess, err := h.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return
	}
	players, err := h.store.ListPlayers(ctx)
	if err != nil {
		return
	}
	if !roundComplete(sess, players) {
		return
	}

	if err := h.game.Advance(ctx); err != nil {
		logf(h.cfg, "GAME: auto-advance error: %v", err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "sexygame_id"

// validCookieID reports whether a presented cookie matches the minted form
// (32 lowercase hex characters). Forged values are replaced, not trusted:
// the id doubles as a document key and must stay opaque.
func validCookieID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && validCookieID(c.Value) {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case h.acts <- clientAction{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the session URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /party/qr; strip the trailing "/qr" to get the client URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerPartyGame sets up routes so that:
//   - $path        → HTML client
//   - $path/ws     → WebSocket for the session
//   - $path/qr     → PNG QR code for the session URL
//
// plus the content-management endpoints from ingest.go.
func registerPartyGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, store *Store, errs chan<- error) {
	game := newGame(cfg, store, newRNG())
	hub := newHub(cfg, store, game)
	go hub.run(ctx)

	mux.GET(cfg.prefix+path, serveClient(cfg))
	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, hub))
	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	registerContentRoutes(cfg, path, mux, store, errs)
}
