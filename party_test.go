package main

import (
	"bytes"
	"context"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestHub(t *testing.T, cfg *Config) (*Hub, *Store) {
	t.Helper()

	store := newTestStore(t)
	if _, err := store.EnsureSession(context.Background(), sessionKey); err != nil {
		t.Fatalf("ensure session: %v", err)
	}

	game := newGame(cfg, store, rand.New(rand.NewSource(1)))
	return newHub(cfg, store, game), store
}

func TestValidCookieID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0123456789abcdef0123456789abcdef", true},
		{"", false},
		{"0123456789abcdef0123456789abcde", false},  // 31 chars
		{"0123456789ABCDEF0123456789ABCDEF", false}, // uppercase
		{"0123456789abcdez0123456789abcdef", false}, // non-hex
		{"$.adminId", false},
	}

	for _, tt := range tests {
		if got := validCookieID(tt.id); got != tt.want {
			t.Errorf("validCookieID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGetOrSetPlayerIDReplacesForgedCookie(t *testing.T) {
	r := httptest.NewRequest("GET", "/party", nil)
	r.Header.Set("Cookie", playerCookieName+"=$.adminId")
	w := httptest.NewRecorder()

	id := getOrSetPlayerID(w, r)
	if id == "$.adminId" {
		t.Fatal("forged cookie value was trusted")
	}
	if !validCookieID(id) {
		t.Fatalf("minted id %q is not in the canonical form", id)
	}

	var set bool
	for _, c := range w.Result().Cookies() {
		if c.Name == playerCookieName && c.Value == id {
			set = true
		}
	}
	if !set {
		t.Fatal("replacement cookie not set on the response")
	}
}

func TestGetOrSetPlayerIDKeepsValidCookie(t *testing.T) {
	const id = "0123456789abcdef0123456789abcdef"

	r := httptest.NewRequest("GET", "/party", nil)
	r.AddCookie(&http.Cookie{Name: playerCookieName, Value: id})
	w := httptest.NewRecorder()

	if got := getOrSetPlayerID(w, r); got != id {
		t.Fatalf("id = %q, want the existing cookie %q", got, id)
	}
}

func TestStartGameLogsOnlyOnSuccess(t *testing.T) {
	cfg := &Config{verbose: true, advanceDelay: time.Second}
	hub, store := newTestHub(t, cfg)
	ctx := context.Background()

	const adminID = "0123456789abcdef0123456789abcdef"
	if err := store.SetSessionKey(ctx, sessionKey, "$.adminId", adminID); err != nil {
		t.Fatalf("set admin: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	admin := &Client{playerID: adminID, send: make(chan any, 8)}

	// An empty lobby cannot start; the failed attempt must not be logged
	// as a started game.
	hub.handleAction(ctx, clientAction{client: admin, msg: ClientMessage{Type: "start_game"}})
	if strings.Contains(buf.String(), "Game started") {
		t.Fatalf("failed start was logged: %q", buf.String())
	}

	seedRoster(t, store,
		singlePlayer("a1", genderMale),
		singlePlayer("b2", genderMale),
		singlePlayer("c3", genderFemale),
	)

	buf.Reset()
	hub.handleAction(ctx, clientAction{client: admin, msg: ClientMessage{Type: "start_game"}})
	if !strings.Contains(buf.String(), "Game started") {
		t.Fatalf("successful start not logged: %q", buf.String())
	}
}

func TestHubShutdownUnblocksPumps(t *testing.T) {
	hub, _ := newTestHub(t, &Config{advanceDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.run(ctx)
	cancel()

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("run loop never signalled shutdown")
	}

	// A read pump unregistering after the loop has exited must not block
	// forever on the unbuffered channel.
	released := make(chan struct{})
	go func() {
		c := &Client{send: make(chan any, 1)}
		select {
		case hub.unreg <- c:
		case <-hub.done:
		}
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("unregistration blocked after shutdown")
	}
}
