// Design notes for the trivia game.

// Each player joins a room with a username and an emoji avatar
// Rooms are identified by an 8-character pronounceable code, generated from a
// word-transition model so they can be read out loud across a couch
// A game is ten rounds; each round broadcasts a prompt and collects one vote
// per player
// Two prompt kinds:
// - plain questions ("who is most likely to..."), answered by picking a player
// - tag prompts, personalized: each player is asked about a different room
//   member, and picks the option that fits them best

// Round flow:
// - Any player can press "Start round"; votes from the previous round are
//   cleared
// - While votes are missing, everyone sees a running count
// - When the last vote lands, everyone sees the full tally
// - After the tenth round the game is over; starting again returns the room
//   to its lobby with a fresh question draw

// Implementation details:
// - One websocket per client, shared by the lobby and all rooms; joining a
//   room relocates the connection rather than reconnecting
// - Room registry holds weak handles so empty rooms get collected; entries
//   are pruned when an upgrade fails
// - QR code endpoint to share a room with phones

package games
