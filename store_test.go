package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := openStore(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})

	return store
}

func TestOpenStoreRequiresPath(t *testing.T) {
	if _, err := openStore(""); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.EnsureSession(ctx, sessionKey)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if sess.Mode != modeLobby {
		t.Fatalf("mode = %q, want %q", sess.Mode, modeLobby)
	}

	sess.Mode = modeAdminSetup
	if swapped, err := store.SwapSession(ctx, sessionKey, modeLobby, sess); err != nil || !swapped {
		t.Fatalf("swap: swapped=%v err=%v", swapped, err)
	}

	again, err := store.EnsureSession(ctx, sessionKey)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.Mode != modeAdminSetup {
		t.Fatalf("ensure overwrote the existing session: mode = %q", again.Mode)
	}
}

func TestSwapSessionRejectsStaleMode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.EnsureSession(ctx, sessionKey)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// A writer that thinks the session is still in admin_setup must not
	// land its update on a lobby record.
	sess.Mode = modeTruthRound
	swapped, err := store.SwapSession(ctx, sessionKey, modeAdminSetup, sess)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if swapped {
		t.Fatal("stale swap succeeded")
	}

	current, err := store.LoadSession(ctx, sessionKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if current.Mode != modeLobby {
		t.Fatalf("mode = %q after rejected swap, want %q", current.Mode, modeLobby)
	}
}

func TestSetSessionKeyPreservesSiblings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.EnsureSession(ctx, sessionKey); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	// Two players submit concurrently; each write targets only its own
	// key, so neither clobbers the other.
	if err := store.SetSessionKey(ctx, sessionKey, `$.answers."player-a"`, "yes"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := store.SetSessionKey(ctx, sessionKey, `$.answers."player-b"`, "no"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if err := store.SetSessionKey(ctx, sessionKey, `$.answers."player-a"`, "no"); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}

	sess, err := store.LoadSession(ctx, sessionKey)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Answers["player-a"] != "no" {
		t.Fatalf("answers[a] = %q, want last write %q", sess.Answers["player-a"], "no")
	}
	if sess.Answers["player-b"] != "no" {
		t.Fatalf("answers[b] = %q, sibling was clobbered", sess.Answers["player-b"])
	}
}

func TestListPlayersJoinOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		p := singlePlayer(id, genderMale)
		p.JoinedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.PutPlayer(ctx, &p); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	players, err := store.ListPlayers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(players) != 3 {
		t.Fatalf("players = %d, want 3", len(players))
	}
	for i, want := range []string{"c", "a", "b"} {
		if players[i].ID != want {
			t.Fatalf("players[%d] = %s, want %s (join order)", i, players[i].ID, want)
		}
	}
}

func TestDeleteBots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	human := singlePlayer("human", genderMale)
	bot := newBot(genderFemale, time.Now())
	if err := store.PutPlayer(ctx, &human); err != nil {
		t.Fatalf("put human: %v", err)
	}
	if err := store.PutPlayer(ctx, &bot); err != nil {
		t.Fatalf("put bot: %v", err)
	}

	if err := store.DeleteBots(ctx); err != nil {
		t.Fatalf("delete bots: %v", err)
	}

	players, err := store.ListPlayers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(players) != 1 || players[0].ID != "human" {
		t.Fatalf("players = %+v, want only the human", players)
	}
}

func TestListChallengesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	items := []Challenge{
		{ID: "t1", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "a"},
		{ID: "t2", Kind: kindTruth, Level: "2", Gender: genderBoth, Text: "b"},
		{ID: "d1", Kind: kindDare, Level: "1", Gender: genderBoth, Text: "c"},
		{ID: "t3", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "d", Answered: true},
	}
	for i := range items {
		if err := store.PutChallenge(ctx, &items[i]); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := store.ListChallenges(ctx, ChallengeFilter{Kind: kindTruth, Level: "1", Unanswered: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("filtered = %+v, want only t1", got)
	}
}

func TestSetAnsweredAndReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := Challenge{ID: "t1", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "a"}
	p := PairChallenge{ID: "p1", Level: "1", TextMale: "m", TextFemale: "f"}
	if err := store.PutChallenge(ctx, &c); err != nil {
		t.Fatalf("put challenge: %v", err)
	}
	if err := store.PutPairChallenge(ctx, &p); err != nil {
		t.Fatalf("put pair: %v", err)
	}

	if err := store.SetAnswered(ctx, kindTruth, "t1", true); err != nil {
		t.Fatalf("set answered: %v", err)
	}
	if err := store.SetAnswered(ctx, kindMatch, "p1", true); err != nil {
		t.Fatalf("set pair answered: %v", err)
	}

	left, err := store.ListChallenges(ctx, ChallengeFilter{Unanswered: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("%d unanswered challenges left, want 0", len(left))
	}

	// The answered flag lives in the document too, not just the column.
	loaded, err := store.GetChallenge(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.Answered {
		t.Fatal("document answered flag not updated")
	}

	if err := store.ResetAnswered(ctx); err != nil {
		t.Fatalf("reset answered: %v", err)
	}

	left, err = store.ListChallenges(ctx, ChallengeFilter{Unanswered: true})
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	pairsLeft, err := store.ListPairChallenges(ctx, ChallengeFilter{Unanswered: true})
	if err != nil {
		t.Fatalf("list pairs after reset: %v", err)
	}
	if len(left) != 1 || len(pairsLeft) != 1 {
		t.Fatalf("after reset: %d challenges, %d pairs unanswered, want 1 and 1", len(left), len(pairsLeft))
	}
}

func TestSubscribeFiresOnMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fired := 0
	store.Subscribe(func() { fired++ })

	c := Challenge{ID: "t1", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "a"}
	if err := store.PutChallenge(ctx, &c); err != nil {
		t.Fatalf("put: %v", err)
	}
	if fired != 1 {
		t.Fatalf("subscriber fired %d times, want 1", fired)
	}
}
