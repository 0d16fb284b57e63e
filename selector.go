package main

import (
	"context"
	"math/rand"
	"strconv"
)

// escalationWindow bounds the level search: startLevel through
// startLevel+9, in order, stopping at the first level that has at least
// one eligible item. A fixed, deterministic window rather than unbounded
// retry; callers treat exhaustion as the end of the round or sequence.
const escalationWindow = 10

// pick is one selected unit of content, flattened across both tables.
type pick struct {
	id         string
	kind       string
	level      string
	text       string // single-player prompt
	textMale   string // pair prompt variants
	textFemale string
}

func (p pick) promptFor(gender string) string {
	if p.kind == kindMatch {
		if gender == genderFemale {
			return p.textFemale
		}
		return p.textMale
	}
	return p.text
}

// findNext returns one unplayed, unpaused item of the given kind, starting
// at startLevel and escalating one level at a time through the window.
// For truth/dare the target player's gender filters items: "both" is
// always eligible, a gender-tagged item only for a matching target. Among
// the eligible items at the first qualifying level, one is chosen
// uniformly at random.
//
// Returns errNoEligibleContent when the whole window is exhausted; this is
// a normal outcome, not a failure.
func findNext(ctx context.Context, store *Store, kind, startLevel, targetGender string, rng *rand.Rand) (pick, error) {
	start, err := strconv.Atoi(startLevel)
	if err != nil {
		return pick{}, errLevelRequired
	}

	for offset := 0; offset < escalationWindow; offset++ {
		level := strconv.Itoa(start + offset)

		if kind == kindMatch {
			items, err := store.ListPairChallenges(ctx, ChallengeFilter{Level: level, Unanswered: true})
			if err != nil {
				return pick{}, err
			}
			eligible := items[:0]
			for _, c := range items {
				if !c.Paused {
					eligible = append(eligible, c)
				}
			}
			if len(eligible) == 0 {
				continue
			}
			c := eligible[rng.Intn(len(eligible))]
			return pick{
				id:         c.ID,
				kind:       kindMatch,
				level:      c.Level,
				textMale:   c.TextMale,
				textFemale: c.TextFemale,
			}, nil
		}

		items, err := store.ListChallenges(ctx, ChallengeFilter{Kind: kind, Level: level, Unanswered: true})
		if err != nil {
			return pick{}, err
		}
		eligible := items[:0]
		for _, c := range items {
			if c.Paused {
				continue
			}
			if c.Gender != genderBoth && c.Gender != targetGender {
				continue
			}
			eligible = append(eligible, c)
		}
		if len(eligible) == 0 {
			continue
		}
		c := eligible[rng.Intn(len(eligible))]
		return pick{
			id:    c.ID,
			kind:  c.Kind,
			level: c.Level,
			text:  c.Text,
		}, nil
	}

	return pick{}, errNoEligibleContent
}
