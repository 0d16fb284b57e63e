package main

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func seedChallenge(t *testing.T, store *Store, c Challenge) {
	t.Helper()
	if err := store.PutChallenge(context.Background(), &c); err != nil {
		t.Fatalf("seed challenge %s: %v", c.ID, err)
	}
}

func seedPairChallenge(t *testing.T, store *Store, c PairChallenge) {
	t.Helper()
	if err := store.PutPairChallenge(context.Background(), &c); err != nil {
		t.Fatalf("seed pair challenge %s: %v", c.ID, err)
	}
}

func TestFindNextEscalatesPastEmptyLevels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Level 3 is fully played out, level 4 has nothing, level 5 has one
	// item left. Starting at 3 must land on the level-5 item.
	seedChallenge(t, store, Challenge{ID: "t3", Kind: kindTruth, Level: "3", Gender: genderBoth, Text: "old", Answered: true})
	seedChallenge(t, store, Challenge{ID: "t5", Kind: kindTruth, Level: "5", Gender: genderBoth, Text: "fresh"})

	p, err := findNext(ctx, store, kindTruth, "3", genderMale, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("findNext: %v", err)
	}
	if p.id != "t5" || p.level != "5" {
		t.Fatalf("pick = %+v, want t5 at level 5", p)
	}
}

func TestFindNextStopsAtFirstQualifyingLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedChallenge(t, store, Challenge{ID: "t2", Kind: kindTruth, Level: "2", Gender: genderBoth, Text: "mild"})
	seedChallenge(t, store, Challenge{ID: "t4", Kind: kindTruth, Level: "4", Gender: genderBoth, Text: "wild"})

	for seed := int64(0); seed < 10; seed++ {
		p, err := findNext(ctx, store, kindTruth, "1", genderMale, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if p.id != "t2" {
			t.Fatalf("seed %d: pick = %s, escalated past a qualifying level", seed, p.id)
		}
	}
}

func TestFindNextGenderFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedChallenge(t, store, Challenge{ID: "m-only", Kind: kindDare, Level: "1", Gender: genderMale, Text: "for him"})
	seedChallenge(t, store, Challenge{ID: "anyone", Kind: kindDare, Level: "1", Gender: genderBoth, Text: "for all"})

	for seed := int64(0); seed < 10; seed++ {
		p, err := findNext(ctx, store, kindDare, "1", genderFemale, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if p.id != "anyone" {
			t.Fatalf("seed %d: a female target drew %s", seed, p.id)
		}
	}

	// A male target may draw either item; verify the tagged one is at
	// least reachable.
	sawTagged := false
	for seed := int64(0); seed < 20; seed++ {
		p, err := findNext(ctx, store, kindDare, "1", genderMale, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if p.id == "m-only" {
			sawTagged = true
		}
	}
	if !sawTagged {
		t.Fatal("gender-tagged item never drawn for a matching target")
	}
}

func TestFindNextSkipsPaused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedChallenge(t, store, Challenge{ID: "paused", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "x", Paused: true})
	seedChallenge(t, store, Challenge{ID: "live", Kind: kindTruth, Level: "2", Gender: genderBoth, Text: "y"})

	p, err := findNext(ctx, store, kindTruth, "1", genderMale, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("findNext: %v", err)
	}
	if p.id != "live" {
		t.Fatalf("pick = %s, want the unpaused item", p.id)
	}
}

func TestFindNextWindowExhaustion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Just beyond the ten-level window from start 1.
	seedChallenge(t, store, Challenge{ID: "far", Kind: kindTruth, Level: "11", Gender: genderBoth, Text: "z"})

	_, err := findNext(ctx, store, kindTruth, "1", genderMale, rand.New(rand.NewSource(1)))
	if !errors.Is(err, errNoEligibleContent) {
		t.Fatalf("err = %v, want errNoEligibleContent", err)
	}

	// Starting at 2 brings level 11 inside the window.
	p, err := findNext(ctx, store, kindTruth, "2", genderMale, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("findNext from 2: %v", err)
	}
	if p.id != "far" {
		t.Fatalf("pick = %s, want far", p.id)
	}
}

func TestFindNextMatchKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Single-player content must never leak into a match round.
	seedChallenge(t, store, Challenge{ID: "t1", Kind: kindTruth, Level: "1", Gender: genderBoth, Text: "x"})
	seedPairChallenge(t, store, PairChallenge{ID: "p1", Level: "1", TextMale: "his", TextFemale: "hers"})

	p, err := findNext(ctx, store, kindMatch, "1", "", rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("findNext: %v", err)
	}
	if p.id != "p1" || p.kind != kindMatch {
		t.Fatalf("pick = %+v, want the pair statement", p)
	}
	if p.promptFor(genderMale) != "his" || p.promptFor(genderFemale) != "hers" {
		t.Fatalf("prompt variants = %q / %q", p.promptFor(genderMale), p.promptFor(genderFemale))
	}
}

func TestFindNextInvalidLevel(t *testing.T) {
	store := newTestStore(t)

	_, err := findNext(context.Background(), store, kindTruth, "spicy", genderMale, rand.New(rand.NewSource(1)))
	if !errors.Is(err, errLevelRequired) {
		t.Fatalf("err = %v, want errLevelRequired", err)
	}
}
