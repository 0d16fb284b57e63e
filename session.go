package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// sessionKey names the single session record. One deployment runs exactly
// one session, so the key is fixed.
const sessionKey = "main"

const (
	modeLobby      = "lobby"
	modeAdminSetup = "admin_setup"
	modeTruthRound = "truth_round"
	modeDareRound  = "dare_round"
	modeMatchRound = "match_round"
	modeEnded      = "ended"
)

func isRoundMode(mode string) bool {
	return mode == modeTruthRound || mode == modeDareRound || mode == modeMatchRound
}

func modeForKind(kind string) string {
	switch kind {
	case kindTruth:
		return modeTruthRound
	case kindDare:
		return modeDareRound
	default:
		return modeMatchRound
	}
}

func kindForMode(mode string) string {
	switch mode {
	case modeTruthRound:
		return kindTruth
	case modeDareRound:
		return kindDare
	default:
		return kindMatch
	}
}

// Session is the single shared mutable document every connected device
// converges on. Per-player submissions land in Answers/Votes as isolated
// key updates; everything else changes only through the transitions below,
// each guarded by the mode it expects to be leaving.
type Session struct {
	Mode        string            `json:"mode"`
	Turn        int               `json:"turn"`
	Answers     map[string]string `json:"answers"`
	Votes       map[string]string `json:"votes"`
	Points      map[string]int    `json:"points"`
	Code        string            `json:"code"`
	AdminID     string            `json:"adminId"`
	CurrentItem string            `json:"currentItem"`
	Level       string            `json:"level"`
	Auto        bool              `json:"auto"`
	AutoSeq     []string          `json:"autoSeq"`
	AutoCursor  int               `json:"autoCursor"`
	Pairs       map[string]string `json:"pairs,omitempty"`
	History     []MatchRecord     `json:"history"`
	Ending      bool              `json:"ending"`
}

func newSession() *Session {
	return &Session{
		Mode:    modeLobby,
		Answers: map[string]string{},
		Votes:   map[string]string{},
		Points:  map[string]int{},
		History: []MatchRecord{},
	}
}

func (s *Session) clearUnit() {
	s.Answers = map[string]string{}
	s.Votes = map[string]string{}
	s.Pairs = nil
	s.CurrentItem = ""
}

func (s *Session) addPoints(playerID string, n int) {
	if s.Points == nil {
		s.Points = map[string]int{}
	}
	s.Points[playerID] += n
}

// Game drives the session state machine. All transition methods follow the
// same shape: load the document, validate against the mode it should still
// be in, compute the new document, then write it back conditionally on
// that mode (SwapSession). A failed swap means another writer got there
// first and the transition is silently dropped. Writes outside the session
// document (answered flags, player counters, bot rows) are deferred until
// the swap has succeeded, so a dropped transition leaves no trace.
//
// Transition methods are not safe for concurrent use; the hub run loop is
// the single orchestration writer. SubmitAnswer and SubmitVote are safe
// from any goroutine since they only touch the caller's own key.
type Game struct {
	cfg   *Config
	store *Store
	rng   *rand.Rand
	now   func() time.Time
}

func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func newGame(cfg *Config, store *Store, rng *rand.Rand) *Game {
	return &Game{
		cfg:   cfg,
		store: store,
		rng:   rng,
		now:   time.Now,
	}
}

type effect func(context.Context) error

func (g *Game) markAnswered(kind, id string) effect {
	return func(ctx context.Context) error {
		return g.store.SetAnswered(ctx, kind, id, true)
	}
}

func (g *Game) applyEffects(ctx context.Context, effects []effect) error {
	for _, eff := range effects {
		if err := eff(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StartGame moves the session from the lobby into admin setup. It verifies
// the roster and content pool are playable and, when the non-bot count is
// odd, synthesizes one bot of the minority gender so match pairing always
// has an even roster. Nothing is written when a precondition fails.
func (g *Game) StartGame(ctx context.Context) error {
	sess, err := g.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if sess.Mode != modeLobby {
		return errWrongMode
	}

	players, err := g.store.ListPlayers(ctx)
	if err != nil {
		return err
	}

	humans := make([]Player, 0, len(players))
	for _, p := range players {
		if !p.Bot {
			humans = append(humans, p)
		}
	}

	if len(humans) < 3 {
		return errInsufficientPlayers
	}

	challenges, err := g.store.ListChallenges(ctx, ChallengeFilter{})
	if err != nil {
		return err
	}
	for _, c := range challenges {
		if !c.complete() {
			return fmt.Errorf("%w (challenge %s)", errIncompleteContent, c.ID)
		}
	}
	pairItems, err := g.store.ListPairChallenges(ctx, ChallengeFilter{})
	if err != nil {
		return err
	}
	for _, c := range pairItems {
		if !c.complete() {
			return fmt.Errorf("%w (statement %s)", errIncompleteContent, c.ID)
		}
	}

	if err := validateCouples(humans); err != nil {
		return err
	}

	var effects []effect

	// Drop bots from a previous game before deciding whether a fresh
	// one is needed.
	effects = append(effects, g.store.DeleteBots)
	if len(humans)%2 == 1 {
		bot := newBot(minorityGender(humans), g.now())
		effects = append(effects, func(ctx context.Context) error {
			return g.store.PutPlayer(ctx, &bot)
		})
	}

	sess.Mode = modeAdminSetup
	sess.Turn = 0
	sess.History = []MatchRecord{}
	sess.Ending = false
	sess.clearUnit()

	swapped, err := g.store.SwapSession(ctx, sessionKey, modeLobby, sess)
	if err != nil || !swapped {
		return err
	}
	return g.applyEffects(ctx, effects)
}

// StartRoundRequest carries the admin's round selection. Truths, Dares,
// and Matches only matter when Auto is set and no sequence exists yet.
type StartRoundRequest struct {
	Level   string
	Kind    string
	Auto    bool
	Truths  int
	Dares   int
	Matches int
}

// StartRound begins the next round from admin setup. A level is always
// required; the kind comes from the request, or from the auto sequence
// when automatic mode is on. Turning auto mode off discards the sequence.
func (g *Game) StartRound(ctx context.Context, req StartRoundRequest) error {
	sess, err := g.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if sess.Mode != modeAdminSetup {
		return errWrongMode
	}

	if req.Level == "" {
		return errLevelRequired
	}
	sess.Level = req.Level

	sess.Auto = req.Auto
	if !req.Auto {
		sess.AutoSeq = nil
		sess.AutoCursor = 0
	}

	kind := req.Kind
	if sess.Auto {
		if len(sess.AutoSeq) == 0 {
			sess.AutoSeq = buildSequence(req.Truths, req.Dares, req.Matches)
			sess.AutoCursor = 0
		}
		if len(sess.AutoSeq) > 0 {
			kind = sess.AutoSeq[sess.AutoCursor]
		}
	}
	switch kind {
	case kindTruth, kindDare, kindMatch:
	case "":
		return errKindRequired
	default:
		return errKindRequired
	}

	players, err := g.store.ListPlayers(ctx)
	if err != nil {
		return err
	}

	effects, err := g.beginRound(ctx, sess, players, kind)
	if err != nil {
		return err
	}

	swapped, err := g.store.SwapSession(ctx, sessionKey, modeAdminSetup, sess)
	if err != nil || !swapped {
		return err
	}
	return g.applyEffects(ctx, effects)
}

// beginRound mutates sess into the opening state of one round of the given
// kind: content selected, turn pointer placed, pairs computed and bot
// answers seeded for a match round. It only stages the answered-flag write
// as an effect; the caller decides whether the transition lands.
func (g *Game) beginRound(ctx context.Context, sess *Session, players []Player, kind string) ([]effect, error) {
	sess.clearUnit()

	if kind == kindMatch {
		if len(players) < 3 {
			return nil, errMatchNeedsPlayers
		}

		p, err := findNext(ctx, g.store, kindMatch, sess.Level, "", g.rng)
		if err != nil {
			return nil, err
		}

		sess.Pairs = computePairs(players, g.rng)
		sess.Turn = 0
		for _, player := range players {
			if player.Bot {
				sess.Answers[player.ID] = g.randomYesNo()
			}
		}
		sess.CurrentItem = p.id
		sess.Mode = modeMatchRound
		return []effect{g.markAnswered(kindMatch, p.id)}, nil
	}

	turn := firstHuman(players)
	if turn < 0 {
		return nil, errInsufficientPlayers
	}

	p, err := findNext(ctx, g.store, kind, sess.Level, players[turn].Gender, g.rng)
	if err != nil {
		return nil, err
	}

	sess.Turn = turn
	sess.CurrentItem = p.id
	sess.Mode = modeForKind(kind)
	return []effect{g.markAnswered(kind, p.id)}, nil
}

func (g *Game) randomYesNo() string {
	if g.rng.Intn(2) == 0 {
		return "yes"
	}
	return "no"
}

// SubmitAnswer records one player's answer for the active unit. Last write
// wins for that player's key only; concurrent submissions from other
// players are untouched because this is a single-path update.
func (g *Game) SubmitAnswer(ctx context.Context, playerID, value string) error {
	return g.submit(ctx, "answers", playerID, value)
}

// SubmitVote records one player's vote for the active unit.
func (g *Game) SubmitVote(ctx context.Context, playerID, value string) error {
	return g.submit(ctx, "votes", playerID, value)
}

func (g *Game) submit(ctx context.Context, field, playerID, value string) error {
	if playerID == "" || value == "" {
		return errors.New("empty submission")
	}

	// The id is embedded as a quoted label in the JSON path below. Ids
	// carrying path metacharacters never came from a server-minted cookie
	// and must not reach jsonb_set, where a stray quote would graft a
	// nested object onto the map and corrupt the document.
	if strings.ContainsAny(playerID, `"$.[]\`) {
		return errNotOnRoster
	}

	sess, err := g.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !isRoundMode(sess.Mode) {
		return errWrongMode
	}

	// Only roster members hold an answer/vote key. The admin device and
	// spectators are connected but never joined, so their submissions
	// must not influence the tally.
	players, err := g.store.ListPlayers(ctx)
	if err != nil {
		return err
	}
	if _, ok := playerByID(players, playerID); !ok {
		return errNotOnRoster
	}

	path := fmt.Sprintf(`$.%s."%s"`, field, playerID)
	return g.store.SetSessionKey(ctx, sessionKey, path, value)
}

// Advance is the one operation that both the auto-advance timer and the
// admin's skip button invoke. Called against a record that has already
// left a round mode it is a no-op, which makes double-firing harmless.
func (g *Game) Advance(ctx context.Context) error {
	sess, err := g.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if !isRoundMode(sess.Mode) {
		return nil
	}
	expect := sess.Mode

	players, err := g.store.ListPlayers(ctx)
	if err != nil {
		return err
	}

	var effects []effect

	if sess.Mode == modeMatchRound {
		effects = append(effects, g.tallyMatchRound(sess, players)...)

		finishEffects, err := g.finishRound(ctx, sess, players)
		if err != nil {
			return err
		}
		effects = append(effects, finishEffects...)
	} else {
		kind := kindForMode(sess.Mode)

		// Score the just-finished turn-holder before moving the pointer.
		if sess.Turn >= 0 && sess.Turn < len(players) {
			holder := players[sess.Turn]
			if n := tallyVotes(sess.Votes, holder.ID); n > 0 {
				sess.addPoints(holder.ID, n)
			}
		}

		finished := true
		if next := nextHuman(players, sess.Turn); next >= 0 {
			p, err := findNext(ctx, g.store, kind, sess.Level, players[next].Gender, g.rng)
			switch {
			case err == nil:
				sess.Turn = next
				sess.Answers = map[string]string{}
				sess.Votes = map[string]string{}
				sess.CurrentItem = p.id
				finished = false
				effects = append(effects, g.markAnswered(kind, p.id))
			case errors.Is(err, errNoEligibleContent):
				// Content ran out mid-round; the round ends here.
			default:
				return err
			}
		}

		if finished {
			finishEffects, err := g.finishRound(ctx, sess, players)
			if err != nil {
				return err
			}
			effects = append(effects, finishEffects...)
		}
	}

	swapped, err := g.store.SwapSession(ctx, sessionKey, expect, sess)
	if err != nil || !swapped {
		return err
	}
	return g.applyEffects(ctx, effects)
}

// tallyMatchRound resolves every pair that has both answers in. Equal
// answers score one point for each member and log a match; unequal answers
// log a mismatch. Counter updates on the player documents are staged as
// effects so a lost swap writes nothing.
func (g *Game) tallyMatchRound(sess *Session, players []Player) []effect {
	now := g.now()
	var effects []effect

	for a, b := range sess.Pairs {
		if a >= b {
			// The map is symmetric; visit each pair once.
			continue
		}

		answerA, okA := sess.Answers[a]
		answerB, okB := sess.Answers[b]
		if !okA || !okB {
			continue
		}

		playerA, foundA := playerByID(players, a)
		playerB, foundB := playerByID(players, b)
		if !foundA || !foundB {
			continue
		}

		result := pairOutcome(answerA, answerB)
		if result == resultMatch {
			sess.addPoints(a, 1)
			sess.addPoints(b, 1)
			playerA.Matched++
			playerB.Matched++
		} else {
			playerA.Mismatched++
			playerB.Mismatched++
		}

		sess.History = append(sess.History, MatchRecord{
			PlayerA: a,
			PlayerB: b,
			NameA:   playerA.Name,
			NameB:   playerB.Name,
			Result:  result,
			At:      now,
		})

		updatedA, updatedB := playerA, playerB
		effects = append(effects,
			func(ctx context.Context) error { return g.store.PutPlayer(ctx, &updatedA) },
			func(ctx context.Context) error { return g.store.PutPlayer(ctx, &updatedB) },
		)
	}

	return effects
}

// finishRound decides where a completed round lands: ended when the ending
// flag is set, the next auto round when a sequence is running, otherwise
// back to admin setup. Content exhaustion in auto mode falls back to admin
// setup instead of retrying.
func (g *Game) finishRound(ctx context.Context, sess *Session, players []Player) ([]effect, error) {
	sess.Turn = 0
	sess.clearUnit()

	if sess.Ending {
		sess.Mode = modeEnded
		return nil, nil
	}

	if sess.Auto && len(sess.AutoSeq) > 0 {
		kind, cursor := nextInSequence(sess.AutoSeq, sess.AutoCursor)
		sess.AutoCursor = cursor

		effects, err := g.beginRound(ctx, sess, players, kind)
		if err == nil {
			return effects, nil
		}
		if errors.Is(err, errNoEligibleContent) || errors.Is(err, errMatchNeedsPlayers) {
			sess.Mode = modeAdminSetup
			return nil, nil
		}
		return nil, err
	}

	sess.Mode = modeAdminSetup
	return nil, nil
}

// EndGame flags the session to terminate at the next natural round
// completion. The active round always runs to its own end.
func (g *Game) EndGame(ctx context.Context) error {
	sess, err := g.store.LoadSession(ctx, sessionKey)
	if err != nil {
		return err
	}
	if sess.Mode == modeLobby || sess.Mode == modeEnded {
		return errWrongMode
	}
	return g.store.SetSessionKey(ctx, sessionKey, "$.ending", true)
}

// Reset wipes the roster, marks all content unplayed, and restores the
// session record to lobby defaults. Available from any state.
func (g *Game) Reset(ctx context.Context) error {
	if err := g.store.DeleteAllPlayers(ctx); err != nil {
		return err
	}
	if err := g.store.ResetAnswered(ctx); err != nil {
		return err
	}
	return g.store.ReplaceSession(ctx, sessionKey, newSession())
}

// roundComplete is the auto-advance threshold: a match round needs every
// player's answer (bots were seeded at round start); a truth/dare round
// needs a vote from every non-bot player except the turn-holder, whose own
// vote is neither required nor counted.
func roundComplete(sess *Session, players []Player) bool {
	if len(players) == 0 {
		return false
	}

	switch sess.Mode {
	case modeMatchRound:
		for _, p := range players {
			if sess.Answers[p.ID] == "" {
				return false
			}
		}
		return true
	case modeTruthRound, modeDareRound:
		var holderID string
		if sess.Turn >= 0 && sess.Turn < len(players) {
			holderID = players[sess.Turn].ID
		}
		for _, p := range players {
			if p.Bot || p.ID == holderID {
				continue
			}
			if sess.Votes[p.ID] == "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}
