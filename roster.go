package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	genderMale   = "male"
	genderFemale = "female"
	genderBoth   = "both"

	relationshipSingle = "single"
	relationshipCouple = "couple"
)

// Player holds the data we store server-side for one roster entry.
// Bots are synthetic fillers created at game start so pairing always has
// an even player count; they never hold a truth/dare turn.
type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Gender       string    `json:"gender"`
	Relationship string    `json:"relationship"`
	CoupleID     string    `json:"coupleId,omitempty"`
	Active       bool      `json:"active"`
	Bot          bool      `json:"bot"`
	Matched      int       `json:"matched"`
	Mismatched   int       `json:"mismatched"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func humanCount(players []Player) int {
	count := 0
	for _, p := range players {
		if !p.Bot {
			count++
		}
	}
	return count
}

// validateCouples checks that every couple identifier present on the
// roster is shared by exactly two players, one of each gender.
func validateCouples(players []Player) error {
	members := make(map[string][]Player)
	for _, p := range players {
		if p.Relationship != relationshipCouple {
			continue
		}
		if p.CoupleID == "" {
			return fmt.Errorf("%w: %s has no couple id", errIncompleteCouples, p.Name)
		}
		members[p.CoupleID] = append(members[p.CoupleID], p)
	}

	for id, m := range members {
		if len(m) != 2 {
			return fmt.Errorf("%w: couple %q has %d member(s)", errIncompleteCouples, id, len(m))
		}
		if m[0].Gender == m[1].Gender {
			return fmt.Errorf("%w: couple %q has two %s players", errIncompleteCouples, id, m[0].Gender)
		}
	}

	return nil
}

// minorityGender returns the gender with fewer non-bot players, male on a tie.
func minorityGender(players []Player) string {
	males, females := 0, 0
	for _, p := range players {
		if p.Bot {
			continue
		}
		if p.Gender == genderFemale {
			females++
		} else {
			males++
		}
	}
	if females < males {
		return genderFemale
	}
	return genderMale
}

func newBot(gender string, now time.Time) Player {
	return Player{
		ID:           uuid.NewString(),
		Name:         "Bot",
		Gender:       gender,
		Relationship: relationshipSingle,
		Active:       true,
		Bot:          true,
		JoinedAt:     now,
	}
}

// firstHuman returns the index of the first non-bot player, or -1.
func firstHuman(players []Player) int {
	for i, p := range players {
		if !p.Bot {
			return i
		}
	}
	return -1
}

// nextHuman returns the first non-bot index after from, or -1. Bot slots
// are skipped so bots never hold a turn.
func nextHuman(players []Player, from int) int {
	for i := from + 1; i < len(players); i++ {
		if !players[i].Bot {
			return i
		}
	}
	return -1
}

func playerByID(players []Player, id string) (Player, bool) {
	for _, p := range players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}
