package main

const (
	kindTruth = "truth"
	kindDare  = "dare"
	kindMatch = "match"
)

// Challenge is a single-player prompt. Level is an ordered tier stored as a
// numeric string ("1".."4"); Gender restricts which players may draw it.
type Challenge struct {
	ID       string `json:"id"`
	Level    string `json:"level"`
	Kind     string `json:"kind"`
	Gender   string `json:"gender"`
	Text     string `json:"text"`
	Answered bool   `json:"answered"`
	Paused   bool   `json:"paused"`
}

// complete reports whether the item is playable: level, kind, and gender
// must all be set before a game may start.
func (c Challenge) complete() bool {
	return c.Level != "" && c.Kind != "" && c.Gender != ""
}

// PairChallenge is a match/mismatch statement, phrased once per gender.
// Both paired players answer the same statement at the same time without
// seeing each other's answer.
type PairChallenge struct {
	ID         string `json:"id"`
	Level      string `json:"level"`
	TextMale   string `json:"textMale"`
	TextFemale string `json:"textFemale"`
	Answered   bool   `json:"answered"`
	Paused     bool   `json:"paused"`
}

func (c PairChallenge) complete() bool {
	return c.Level != ""
}

// text returns the prompt variant for the given respondent gender.
func (c PairChallenge) text(gender string) string {
	if gender == genderFemale {
		return c.TextFemale
	}
	return c.TextMale
}
