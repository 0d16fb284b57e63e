package main

// buildSequence materializes the auto-round plan from the admin-declared
// quantities: all truth rounds first, then dares, then matches. The block
// order is fixed; nothing is interleaved or shuffled.
func buildSequence(truths, dares, matches int) []string {
	seq := make([]string, 0, truths+dares+matches)
	for i := 0; i < truths; i++ {
		seq = append(seq, kindTruth)
	}
	for i := 0; i < dares; i++ {
		seq = append(seq, kindDare)
	}
	for i := 0; i < matches; i++ {
		seq = append(seq, kindMatch)
	}
	return seq
}

// nextInSequence advances the cursor circularly and returns the round kind
// at the new position. Called once per round completion while auto mode is
// on; the sequence itself persists until auto mode is disabled or the
// session is reset.
func nextInSequence(seq []string, cursor int) (string, int) {
	if len(seq) == 0 {
		return "", 0
	}
	cursor = (cursor + 1) % len(seq)
	return seq[cursor], cursor
}
