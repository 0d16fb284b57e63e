package main

import (
	"math/rand"
	"strconv"
	"testing"
)

func singlePlayer(id, gender string) Player {
	return Player{
		ID:           id,
		Name:         id,
		Gender:       gender,
		Relationship: relationshipSingle,
		Active:       true,
	}
}

func couplePlayer(id, gender, coupleID string) Player {
	p := singlePlayer(id, gender)
	p.Relationship = relationshipCouple
	p.CoupleID = coupleID
	return p
}

func assertValidPairing(t *testing.T, players []Player, pairs map[string]string) {
	t.Helper()

	if len(pairs) != len(players) {
		t.Fatalf("pairs cover %d players, want %d", len(pairs), len(players))
	}
	for a, b := range pairs {
		if a == b {
			t.Fatalf("player %s is paired with themselves", a)
		}
		if pairs[b] != a {
			t.Fatalf("pairing not symmetric: %s -> %s but %s -> %s", a, b, b, pairs[b])
		}
		if _, ok := playerByID(players, a); !ok {
			t.Fatalf("unknown player %s in pairing", a)
		}
	}
}

func TestComputePairsSymmetricAndComplete(t *testing.T) {
	players := []Player{
		singlePlayer("m1", genderMale),
		singlePlayer("m2", genderMale),
		singlePlayer("f1", genderFemale),
		singlePlayer("f2", genderFemale),
	}

	for seed := int64(0); seed < 20; seed++ {
		t.Run(strconv.FormatInt(seed, 10), func(t *testing.T) {
			pairs := computePairs(players, rand.New(rand.NewSource(seed)))
			assertValidPairing(t, players, pairs)
		})
	}
}

func TestComputePairsCouplesAlwaysTogether(t *testing.T) {
	players := []Player{
		couplePlayer("a", genderMale, "pair-1"),
		couplePlayer("b", genderFemale, "pair-1"),
		couplePlayer("c", genderMale, "pair-2"),
		couplePlayer("d", genderFemale, "pair-2"),
		singlePlayer("e", genderMale),
		singlePlayer("f", genderFemale),
	}

	for seed := int64(0); seed < 20; seed++ {
		pairs := computePairs(players, rand.New(rand.NewSource(seed)))
		assertValidPairing(t, players, pairs)

		if pairs["a"] != "b" {
			t.Fatalf("seed %d: couple pair-1 split: a -> %s", seed, pairs["a"])
		}
		if pairs["c"] != "d" {
			t.Fatalf("seed %d: couple pair-2 split: c -> %s", seed, pairs["c"])
		}
		if pairs["e"] != "f" {
			t.Fatalf("seed %d: remaining singles not paired: e -> %s", seed, pairs["e"])
		}
	}
}

func TestComputePairsSinglesPairedAcrossGenders(t *testing.T) {
	players := []Player{
		singlePlayer("m1", genderMale),
		singlePlayer("m2", genderMale),
		singlePlayer("m3", genderMale),
		singlePlayer("f1", genderFemale),
		singlePlayer("f2", genderFemale),
		singlePlayer("f3", genderFemale),
	}

	pairs := computePairs(players, rand.New(rand.NewSource(7)))
	assertValidPairing(t, players, pairs)

	for a, b := range pairs {
		pa, _ := playerByID(players, a)
		pb, _ := playerByID(players, b)
		if pa.Gender == pb.Gender {
			t.Fatalf("%s and %s share gender %s", a, b, pa.Gender)
		}
	}
}

func TestComputePairsGenderImbalanceLeavesRemainderUnpaired(t *testing.T) {
	players := []Player{
		singlePlayer("m1", genderMale),
		singlePlayer("f1", genderFemale),
		singlePlayer("f2", genderFemale),
	}

	pairs := computePairs(players, rand.New(rand.NewSource(3)))

	if len(pairs) != 2 {
		t.Fatalf("expected one pair (2 entries), got %d entries", len(pairs))
	}
	if pairs["m1"] == "" {
		t.Fatal("the lone male should always be paired")
	}
}

func TestComputePairsFreshAssignmentPerCall(t *testing.T) {
	var players []Player
	for i := 0; i < 10; i++ {
		players = append(players, singlePlayer("m"+strconv.Itoa(i), genderMale))
		players = append(players, singlePlayer("f"+strconv.Itoa(i), genderFemale))
	}

	rng := rand.New(rand.NewSource(42))
	first := computePairs(players, rng)
	differs := false
	for i := 0; i < 10; i++ {
		next := computePairs(players, rng)
		assertValidPairing(t, players, next)
		for a, b := range next {
			if first[a] != b {
				differs = true
			}
		}
	}
	if !differs {
		t.Fatal("pairings never changed across 10 fresh assignments")
	}
}
