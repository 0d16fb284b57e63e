// Package games holds design notes for game modes.
package games

// One shared session per deployment
// Players join from their phones with a name, gender, and (optionally) a couple name
// One device joins under the admin name and becomes the game master
// The game master uploads challenges as CSV, sets an access code, and starts the game

// Round kinds:
// - Truth: one player at a time answers a question, the others vote on the performance
// - Dare: same turn structure, but a task instead of a question
// - Match: everyone is secretly paired (couples always together) and both partners
//   answer the same statement; matching answers score a point each

// Implementation details:
// - Challenges carry a level (1-4); selection starts at the chosen level and
//   escalates when a level is exhausted
// - Odd player counts get one bot filler so match pairing is always even
// - The game master can let rounds advance automatically on a declared sequence
//   (n truths, then n dares, then n matches, looping)

// Open questions:
// - Should a round that runs out of content mid-turn look different to the game
//   master than a round that finished normally? Currently both land on the setup
//   screen with a notice only in the exhaustion case.
