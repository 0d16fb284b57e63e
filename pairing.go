package main

import (
	"math/rand"
)

// computePairs assigns every player a partner for a match round and
// returns a symmetric map (if A maps to B, B maps to A).
//
// Couples are paired with their declared partner unconditionally; a couple
// is always one male and one female, so they never affect the gender
// balance of the rest. The remaining singles are split by gender, each
// side shuffled independently, and paired positionally until one side runs
// out. Callers guarantee evenness (bot synthesis at game start), so a
// leftover single only occurs on rosters that never reach a match round.
//
// The assignment is fresh on every call; nothing is reused across rounds.
func computePairs(players []Player, rng *rand.Rand) map[string]string {
	pairs := make(map[string]string, len(players))

	byCouple := make(map[string][]Player)
	var males, females []Player

	for _, p := range players {
		if p.Relationship == relationshipCouple && p.CoupleID != "" {
			byCouple[p.CoupleID] = append(byCouple[p.CoupleID], p)
			continue
		}
		if p.Gender == genderFemale {
			females = append(females, p)
		} else {
			males = append(males, p)
		}
	}

	for _, members := range byCouple {
		if len(members) != 2 {
			// Incomplete couple, e.g. the partner left mid-game. Treat the
			// remainder as singles so they still get paired.
			for _, p := range members {
				if p.Gender == genderFemale {
					females = append(females, p)
				} else {
					males = append(males, p)
				}
			}
			continue
		}
		pairs[members[0].ID] = members[1].ID
		pairs[members[1].ID] = members[0].ID
	}

	rng.Shuffle(len(males), func(i, j int) {
		males[i], males[j] = males[j], males[i]
	})
	rng.Shuffle(len(females), func(i, j int) {
		females[i], females[j] = females[j], females[i]
	})

	for i := 0; i < len(males) && i < len(females); i++ {
		pairs[males[i].ID] = females[i].ID
		pairs[females[i].ID] = males[i].ID
	}

	return pairs
}
