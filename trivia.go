// Juge tes potes
//
// A party quiz where the questions are about the players themselves. One
// client opens a room and shares its code (or a QR); everyone else joins
// from their phone. Each game runs ten rounds: the server broadcasts a
// prompt, players vote for the friend it fits best, and the tally comes
// back once everyone has answered.
//
// Features:
// - Single WebSocket endpoint: /path/ws; rooms are created and joined with
//   in-band messages, not URLs
// - Pronounceable 8-char room codes sampled from a word-transition model,
//   with server-side collision check
// - Lobby → ten questions → finished; a finished room can be restarted
// - "Tag" prompts are personalized: every player is asked about a different
//   room member, assigned by a fresh shuffle each round
// - First vote per player wins; later votes in the same round are ignored
// - Rooms are registered under weak handles: once the last member leaves,
//   the room is collectable and its registry entry is pruned lazily
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	questionCount = 10
	codeLength    = 8
)

// step is the coarse phase of a room: the lobby, a question index, or the
// finished screen. It only moves forward, except that a finished room wraps
// back to the lobby.
type step int

const (
	stepLobby    step = -1
	stepFinished step = questionCount
)

func (s *step) advance() step {
	var next step
	switch *s {
	case stepLobby:
		next = 0
	case questionCount - 1:
		next = stepFinished
	case stepFinished:
		next = stepLobby
	default:
		next = *s + 1
	}

	*s = next

	return next
}

// MarshalJSON keeps the original client contract: the lobby serializes as 0,
// a question as its index, finished as the last question index.
func (s step) MarshalJSON() ([]byte, error) {
	n := int(s)
	switch s {
	case stepLobby:
		n = 0
	case stepFinished:
		n = questionCount - 1
	}
	return json.Marshal(n)
}

// player holds the data we store server-side
type player struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// vote is a (voter, choice) pair, serialized as a two-element array. For tag
// rounds the choice is a choice label; for plain questions it is another
// player's username.
type vote [2]string

func (v vote) voter() string  { return v[0] }
func (v vote) choice() string { return v[1] }

// Messages coming from clients
type clientMessage struct {
	Tag      string  `json:"tag"`                // "RoomProbe", "JoinRoom", "StartRound", "Answer", "LeaveRoom"
	Code     *string `json:"code,omitempty"`     // RoomProbe / JoinRoom (absent code ⇒ create a room)
	Username string  `json:"username,omitempty"` // JoinRoom
	Avatar   string  `json:"avatar,omitempty"`   // JoinRoom
	Vote     *vote   `json:"vote,omitempty"`     // Answer
}

// Messages sent to clients
type roomProbeResultMessage struct {
	Tag  string  `json:"tag"`  // "RoomProbeResult"
	Code *string `json:"code"` // nil when no such room exists
}

type onRoomJoinMessage struct {
	Tag     string   `json:"tag"` // "OnRoomJoin"
	Code    string   `json:"code"`
	Players []player `json:"players"`
	Step    step     `json:"step"`
}

type roomUpdateMessage struct {
	Tag     string   `json:"tag"` // "RoomUpdate"
	Players []player `json:"players"`
}

type newRoundMessage struct {
	Tag      string       `json:"tag"` // "NewRound"
	Question clientPrompt `json:"question"`
}

type roundUpdateMessage struct {
	Tag              string `json:"tag"` // "RoundUpdate"
	ReadyPlayerCount int    `json:"ready_player_count"`
}

type roundOverMessage struct {
	Tag   string `json:"tag"` // "RoundOver"
	Votes []vote `json:"votes"`
}

type gameOverMessage struct {
	Tag string `json:"tag"` // "GameOver"
}

type errorMessage struct {
	Tag  string `json:"tag"`  // "Error"
	Code string `json:"code"` // "UsedUsername", "EmptyUsername" or "RoomNotFound"
}

// Domain errors, spelled the way they go over the wire.
var (
	errUsedUsername  = errors.New("UsedUsername")
	errEmptyUsername = errors.New("EmptyUsername")
	errRoomNotFound  = errors.New("RoomNotFound")
)

func errorReply(err error) errorMessage {
	return errorMessage{Tag: "Error", Code: err.Error()}
}

// station is whatever currently handles a connection's messages: the shared
// lobby, or one game room. A handler may answer with a relocation, applied
// by the connection's own read loop between messages.
type station interface {
	onJoin(c *client)
	onMessage(c *client, msg clientMessage) *relocation
	onLeave(c *client)
}

type relocation struct {
	to       station
	identity string
}

type client struct {
	conn     *websocket.Conn
	send     chan any
	username string
	station  station
}

// trySend delivers a direct reply without ever blocking the handler.
func (c *client) trySend(msg any) {
	select {
	case c.send <- msg:
	default:
	}
}

// relocate runs on the connection's own read goroutine, so no message is
// ever handled under the old association.
func (c *client) relocate(r *relocation) {
	c.station.onLeave(c)
	c.station = r.to
	c.username = r.identity
	c.station.onJoin(c)
}

// lobby is where every connection starts out. It owns the room registry and
// the corpora shared by all rooms.
type lobby struct {
	cfg       *Config
	words     *wordModel
	questions []prompt

	mu    sync.Mutex
	rooms map[string]weak.Pointer[gameRoom]
	rng   *rand.Rand
}

func newLobby(cfg *Config, words *wordModel, questions []prompt) *lobby {
	return &lobby{
		cfg:       cfg,
		words:     words,
		questions: questions,
		rooms:     make(map[string]weak.Pointer[gameRoom]),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// lookupLocked resolves a code to a live room. Registry entries are weak:
// an entry whose room has been collected is pruned here, on failed upgrade.
func (l *lobby) lookupLocked(code string) *gameRoom {
	handle, ok := l.rooms[code]
	if !ok {
		return nil
	}

	room := handle.Value()
	if room == nil {
		delete(l.rooms, code)
	}
	return room
}

func (l *lobby) probe(code string) *gameRoom {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lookupLocked(code)
}

// createRoom mints an unused code and registers a new room under it, all
// under the registry lock so two concurrent creations can never both claim
// the same code. Collisions are expected and silently retried. The registry
// only keeps a weak handle: the members' station pointers are the owning
// references, so an abandoned room becomes collectable on its own.
func (l *lobby) createRoom() *gameRoom {
	l.mu.Lock()
	defer l.mu.Unlock()

	var code string
	for {
		code = generateCode(l.words, l.cfg.codeEntropy, codeLength, l.rng)
		if l.lookupLocked(code) == nil {
			break
		}
	}

	room := newGameRoom(l, code)
	l.rooms[code] = weak.Make(room)

	return room
}

func (l *lobby) onJoin(c *client) {}

func (l *lobby) onLeave(c *client) {}

func (l *lobby) onMessage(c *client, msg clientMessage) *relocation {
	switch msg.Tag {
	case "RoomProbe":
		var found *string
		if msg.Code != nil && l.probe(*msg.Code) != nil {
			found = msg.Code
		}
		c.trySend(roomProbeResultMessage{Tag: "RoomProbeResult", Code: found})

	case "JoinRoom":
		if msg.Username == "" {
			c.trySend(errorReply(errEmptyUsername))
			return nil
		}

		var room *gameRoom

		if msg.Code != nil {
			// Codes are always codeLength long; skip the registry for
			// anything else.
			if len(*msg.Code) != codeLength {
				c.trySend(errorReply(errRoomNotFound))
				return nil
			}

			room = l.probe(*msg.Code)
			if room == nil {
				c.trySend(errorReply(errRoomNotFound))
				return nil
			}
		} else {
			room = l.createRoom()
			logf(l.cfg, "GAMES: Created room %s", room.code)
		}

		if err := room.seat(player{Username: msg.Username, Avatar: msg.Avatar}); err != nil {
			c.trySend(errorReply(err))
			return nil
		}
		logf(l.cfg, "GAMES: Player %q joined %s", msg.Username, room.code)

		return &relocation{to: room, identity: msg.Username}
	}

	return nil
}

// gameRoom is one session: a roster, a vote ledger for the current round, a
// step, and the ten questions drawn for this game. All state is guarded by
// mu, so handler calls against the same room never interleave.
type gameRoom struct {
	lobby *lobby
	code  string

	mu      sync.Mutex
	clients map[*client]bool
	players []player
	votes   []vote
	step    step
	plan    []int
	rng     *rand.Rand
}

func newGameRoom(l *lobby, code string) *gameRoom {
	room := &gameRoom{
		lobby:   l,
		code:    code,
		step:    stepLobby,
		clients: make(map[*client]bool),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	room.plan = room.drawPlan()

	return room
}

// drawPlan samples questionCount distinct corpus indices.
func (r *gameRoom) drawPlan() []int {
	return r.rng.Perm(len(r.lobby.questions))[:questionCount]
}

// seat reserves a roster spot. Insertion order is the canonical player
// order used for round polling.
func (r *gameRoom) seat(p player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.players {
		if existing.Username == p.Username {
			return errUsedUsername
		}
	}

	r.players = append(r.players, p)

	return nil
}

func (r *gameRoom) sendLocked(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
		// Slow consumer: drop it from the broadcast set and sever the
		// connection; its read loop runs the usual leave path.
		delete(r.clients, c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (r *gameRoom) broadcastLocked(msg any) {
	for c := range r.clients {
		r.sendLocked(c, msg)
	}
}

// broadcastWithLocked evaluates fn once per recipient, for payloads that
// differ per connection.
func (r *gameRoom) broadcastWithLocked(fn func(c *client) any) {
	for c := range r.clients {
		r.sendLocked(c, fn(c))
	}
}

func (r *gameRoom) onJoin(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c] = true

	// Everyone (the newcomer included) gets the updated roster; the
	// newcomer alone gets the full room snapshot.
	r.broadcastLocked(roomUpdateMessage{Tag: "RoomUpdate", Players: slices.Clone(r.players)})
	r.sendLocked(c, onRoomJoinMessage{Tag: "OnRoomJoin", Code: r.code, Players: slices.Clone(r.players), Step: r.step})
}

func (r *gameRoom) onMessage(c *client, msg clientMessage) *relocation {
	switch msg.Tag {
	case "StartRound":
		r.startRound()
	case "Answer":
		if msg.Vote != nil {
			r.recordVote(*msg.Vote)
		}
	case "LeaveRoom":
		return &relocation{to: r.lobby}
	}

	return nil
}

// onLeave handles an explicit LeaveRoom relocation and a dropped connection
// the same way: the roster entry and any pending vote for this identity go
// away, and the remainder learns about it.
func (r *gameRoom) onLeave(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, c)

	me := c.username
	r.votes = slices.DeleteFunc(r.votes, func(v vote) bool { return v.voter() == me })
	r.players = slices.DeleteFunc(r.players, func(p player) bool { return p.Username == me })

	logf(r.lobby.cfg, "GAMES: Player %q left %s", me, r.code)

	r.broadcastLocked(roomUpdateMessage{Tag: "RoomUpdate", Players: slices.Clone(r.players)})
}

// startRound clears the vote ledger and advances the game one step: into
// the next question, onto the finished screen, or from there back to a
// fresh lobby.
func (r *gameRoom) startRound() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.votes = r.votes[:0]

	switch next := r.step.advance(); next {
	case stepFinished:
		logf(r.lobby.cfg, "GAMES: Game finished in %s", r.code)
		r.broadcastLocked(gameOverMessage{Tag: "GameOver"})

	case stepLobby:
		// Replaying a finished room gets a fresh set of questions.
		r.plan = r.drawPlan()
		r.broadcastLocked(onRoomJoinMessage{Tag: "OnRoomJoin", Code: r.code, Players: slices.Clone(r.players), Step: r.step})

	default:
		question := &r.lobby.questions[r.plan[next]]

		// Fresh uniform bijection of the roster: each member is asked
		// about a different subject this round.
		subjects := slices.Clone(r.players)
		r.rng.Shuffle(len(subjects), func(i, j int) {
			subjects[i], subjects[j] = subjects[j], subjects[i]
		})

		i := 0
		r.broadcastWithLocked(func(*client) any {
			subject := ""
			if i < len(subjects) {
				subject = subjects[i].Username
			}
			i++

			return newRoundMessage{Tag: "NewRound", Question: clientPrompt{prompt: question, subject: subject}}
		})
	}
}

// recordVote appends at most one vote per voter per round; repeats are
// dropped, not errors. Everyone hears progress until the ledger covers the
// roster, then the full tally.
func (r *gameRoom) recordVote(v vote) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !slices.ContainsFunc(r.votes, func(existing vote) bool { return existing.voter() == v.voter() }) {
		r.votes = append(r.votes, v)
	}

	if len(r.votes) < len(r.players) {
		r.broadcastLocked(roundUpdateMessage{Tag: "RoundUpdate", ReadyPlayerCount: len(r.votes)})
	} else {
		r.broadcastLocked(roundOverMessage{Tag: "RoundOver", Votes: slices.Clone(r.votes)})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveTriviaWS hosts one connection for its whole lifetime, lobby and room
// alike.
func serveTriviaWS(cfg *Config, l *lobby) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn:    conn,
			send:    make(chan any, 8),
			station: l,
		}

		go c.writePump()
		c.readPump()
	}
}

func (c *client) readPump() {
	defer func() {
		c.station.onLeave(c)
		_ = c.conn.Close()
		close(c.send)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Undecodable payloads are dropped without a reply; an
			// out-of-sync client gets no oracle.
			continue
		}

		if reloc := c.station.onMessage(c, msg); reloc != nil {
			c.relocate(reloc)
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func serveTriviaQR(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + path + "#" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed trivia/index.html
var indexHTML []byte

//go:embed trivia/app.css
var triviaCSS []byte

//go:embed trivia/app.js
var triviaJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(triviaJS)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path           → HTML client (rooms are created and joined in-page)
//   - $path/ws        → shared WebSocket endpoint for the lobby and all rooms
//   - $path/qr/:code  → PNG QR code pointing a phone at a room
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router, words *wordModel, questions []prompt) {
	l := newLobby(cfg, words, questions)

	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets (no room code in route)
	mux.GET(cfg.prefix+"/assets/trivia/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", getJsHandler(cfg))

	mux.GET(cfg.prefix+path+"/ws", serveTriviaWS(cfg, l))

	mux.GET(cfg.prefix+path+"/qr/:code", serveTriviaQR(cfg, cfg.prefix+path))
}
