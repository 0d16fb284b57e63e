package main

import (
	"sort"
	"time"
)

const (
	resultMatch    = "match"
	resultMismatch = "mismatch"
)

// Approval vote values for a truth/dare performance. Anything else is a
// thumbs-down and scores nothing.
func isApproval(value string) bool {
	return value == "like" || value == "yes"
}

// MatchRecord is one pairwise outcome in the append-only match history.
// Names are denormalized so the history stays readable after a player
// leaves the roster.
type MatchRecord struct {
	PlayerA string    `json:"playerA"`
	PlayerB string    `json:"playerB"`
	NameA   string    `json:"nameA"`
	NameB   string    `json:"nameB"`
	Result  string    `json:"result"`
	At      time.Time `json:"at"`
}

// tallyVotes counts approval votes cast for the turn-holder. The
// turn-holder's own entry, if a client let one through, is ignored.
func tallyVotes(votes map[string]string, turnHolder string) int {
	count := 0
	for voter, value := range votes {
		if voter == turnHolder {
			continue
		}
		if isApproval(value) {
			count++
		}
	}
	return count
}

// pairOutcome compares the two answers of one pair. Equal answers are a
// match and award one point to each member; unequal answers award nothing.
func pairOutcome(a, b string) string {
	if a == b {
		return resultMatch
	}
	return resultMismatch
}

// LeaderboardEntry is one row of the points standing.
type LeaderboardEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// leaderboard renders the cumulative points map against the roster,
// highest first, ties broken by name. Bots never appear.
func leaderboard(players []Player, points map[string]int) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		if p.Bot {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			ID:     p.ID,
			Name:   p.Name,
			Points: points[p.ID],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Name < entries[j].Name
	})

	return entries
}

// PartnerSummary aggregates one player's outcomes against one distinct
// partner across the whole session.
type PartnerSummary struct {
	PartnerID   string `json:"partnerId"`
	PartnerName string `json:"partnerName"`
	Matches     int    `json:"matches"`
	Mismatches  int    `json:"mismatches"`
}

// summarizePartners walks the match history and groups outcomes by the
// partners one player encountered, in first-seen order.
func summarizePartners(history []MatchRecord, playerID string) []PartnerSummary {
	index := make(map[string]int)
	var summaries []PartnerSummary

	for _, rec := range history {
		var partnerID, partnerName string
		switch playerID {
		case rec.PlayerA:
			partnerID, partnerName = rec.PlayerB, rec.NameB
		case rec.PlayerB:
			partnerID, partnerName = rec.PlayerA, rec.NameA
		default:
			continue
		}

		i, ok := index[partnerID]
		if !ok {
			i = len(summaries)
			index[partnerID] = i
			summaries = append(summaries, PartnerSummary{
				PartnerID:   partnerID,
				PartnerName: partnerName,
			})
		}

		if rec.Result == resultMatch {
			summaries[i].Matches++
		} else {
			summaries[i].Mismatches++
		}
	}

	return summaries
}
