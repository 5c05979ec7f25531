package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EgorLis/packbot/internal/clock"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/store"
)

type modsCall struct {
	mods    string
	freemod bool
}

// fakeRoom записывает все вызовы и отдаёт события синхронно.
type fakeRoom struct {
	mu        sync.Mutex
	id        int
	name      string
	said      []string
	maps      []int
	mods      []modsCall
	invited   []osu.User
	started   []int
	timers    []int
	aborted   int
	refreshed int
	closed    int
	slots     []osu.Slot
	ev        osu.RoomEvents
	listening bool

	sayErr    error
	setMapErr error
	// onRefresh подменяет слоты при Refresh.
	onRefresh func() []osu.Slot
}

func (r *fakeRoom) ID() int      { return r.id }
func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) Say(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.said = append(r.said, text)
	return r.sayErr
}

func (r *fakeRoom) SetSettings(osu.TeamMode, osu.WinCondition, int) error { return nil }

func (r *fakeRoom) Invite(u osu.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invited = append(r.invited, u)
	return nil
}

func (r *fakeRoom) SetMap(id int, _ osu.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setMapErr != nil {
		return r.setMapErr
	}
	r.maps = append(r.maps, id)
	return nil
}

func (r *fakeRoom) SetMods(mods string, freemod bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mods = append(r.mods, modsCall{mods, freemod})
	return nil
}

func (r *fakeRoom) Start(countdown int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, countdown)
	return nil
}

func (r *fakeRoom) StartTimer(seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers = append(r.timers, seconds)
	return nil
}

func (r *fakeRoom) AbortTimer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted++
	return nil
}

func (r *fakeRoom) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed++
	if r.onRefresh != nil {
		r.slots = r.onRefresh()
	}
	return nil
}

func (r *fakeRoom) Slots() []osu.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.slots)
}

func (r *fakeRoom) Listen(ev osu.RoomEvents) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev = ev
	r.listening = true
}

func (r *fakeRoom) Unlisten() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ev = osu.RoomEvents{}
	r.listening = false
	return nil
}

func (r *fakeRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeRoom) events() osu.RoomEvents {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ev
}

// события комнаты

func (r *fakeRoom) join(u osu.User, mods ...string) {
	r.mu.Lock()
	s := osu.Slot{Index: len(r.slots), Player: u, Mods: mods}
	r.slots = append(r.slots, s)
	ev := r.ev
	r.mu.Unlock()
	if ev.PlayerJoined != nil {
		ev.PlayerJoined(s)
	}
}

func (r *fakeRoom) leave(u osu.User) {
	r.mu.Lock()
	r.slots = slices.DeleteFunc(r.slots, func(s osu.Slot) bool { return s.Player.Is(u) })
	ev := r.ev
	r.mu.Unlock()
	if ev.PlayerLeft != nil {
		ev.PlayerLeft(u)
	}
}

func (r *fakeRoom) setSlotMods(u osu.User, mods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].Player.Is(u) {
			r.slots[i].Mods = mods
		}
	}
}

func (r *fakeRoom) ready() {
	if ev := r.events(); ev.AllReady != nil {
		ev.AllReady()
	}
}

func (r *fakeRoom) finishSong(scores ...osu.Score) {
	if ev := r.events(); ev.MatchFinished != nil {
		ev.MatchFinished(scores)
	}
}

func (r *fakeRoom) timerEnded() {
	if ev := r.events(); ev.TimerEnded != nil {
		ev.TimerEnded()
	}
}

func (r *fakeRoom) chat(u osu.User, text string) {
	if ev := r.events(); ev.Message != nil {
		ev.Message(osu.Message{User: u, Content: text})
	}
}

func (r *fakeRoom) lastSaid() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.said) == 0 {
		return ""
	}
	return r.said[len(r.said)-1]
}

func (r *fakeRoom) saidAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.said)
}

func (r *fakeRoom) lastMap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.maps) == 0 {
		return 0
	}
	return r.maps[len(r.maps)-1]
}

func (r *fakeRoom) lastMods() modsCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mods) == 0 {
		return modsCall{}
	}
	return r.mods[len(r.mods)-1]
}

func (r *fakeRoom) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRoom) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

// fakeCreator выдаёт комнаты с номерами 1000, 1001...
type fakeCreator struct {
	mu    sync.Mutex
	rooms []*fakeRoom
	err   error
}

func (c *fakeCreator) CreateRoom(_ context.Context, name string) (Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	r := &fakeRoom{id: 1000 + len(c.rooms), name: name}
	c.rooms = append(c.rooms, r)
	return r, nil
}

func (c *fakeCreator) last() *fakeRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rooms) == 0 {
		return nil
	}
	return c.rooms[len(c.rooms)-1]
}

// fakeStore выбирает первую подходящую карту, чтобы тесты были детерминированы.
type fakeStore struct {
	mu       sync.Mutex
	players  map[string]store.Player
	beatmaps []osu.Beatmap
	queries  []store.BeatmapQuery
	err      error
}

func newFakeStore(maps ...osu.Beatmap) *fakeStore {
	return &fakeStore{players: map[string]store.Player{}, beatmaps: maps}
}

func (s *fakeStore) addPlayer(u osu.User, k store.Kind, m osu.Mode, r osu.Rating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := store.NewPlayer(u)
	p.SetRating(k, m, r)
	s.players[osu.NormalizeName(u.Name)] = p
}

func (s *fakeStore) Player(_ context.Context, u osu.User) (store.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[osu.NormalizeName(u.Name)]
	return p, ok, nil
}

func (s *fakeStore) Beatmap(_ context.Context, mode osu.Mode, id int) (osu.Beatmap, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.beatmaps {
		if b.ID == id && b.Mode == mode {
			return b, true, nil
		}
	}
	return osu.Beatmap{}, false, nil
}

func (s *fakeStore) SampleBeatmap(_ context.Context, q store.BeatmapQuery) (osu.Beatmap, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.ExcludeIDs = slices.Clone(q.ExcludeIDs)
	q.ExcludeSets = slices.Clone(q.ExcludeSets)
	s.queries = append(s.queries, q)
	if s.err != nil {
		return osu.Beatmap{}, false, s.err
	}
	for _, b := range s.beatmaps {
		switch {
		case b.Mode != q.Mode:
		case q.Keys > 0 && int(b.CS) != q.Keys:
		case q.HasRange && !inRange(b, q):
		case slices.Contains(q.ExcludeIDs, b.ID):
		case slices.Contains(q.ExcludeSets, b.SetID):
		default:
			return b, true, nil
		}
	}
	return osu.Beatmap{}, false, nil
}

func inRange(b osu.Beatmap, q store.BeatmapQuery) bool {
	r := b.Rating.Rating
	if q.RatingMod != "" {
		if v, ok := b.Multiplier(q.RatingMod); ok {
			r *= v
		}
	}
	return r > q.Min && r < q.Max
}

func (s *fakeStore) queryLog() []store.BeatmapQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

type fakeReporter struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (r *fakeReporter) Submit(_ context.Context, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return r.err
}

func (r *fakeReporter) all() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.results)
}

var errBoom = errors.New("boom")

type harness struct {
	creator *fakeCreator
	store   *fakeStore
	clock   *clock.FakeClock
	deps    Deps
}

func newHarness(t *testing.T, maps ...osu.Beatmap) *harness {
	t.Helper()
	h := &harness{
		creator: &fakeCreator{},
		store:   newFakeStore(maps...),
		clock:   clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.deps = Deps{
		Creator:    h.creator,
		Store:      h.store,
		Interrupts: NewInterrupts(),
		Clock:      h.clock,
		Rand:       rand.New(rand.NewPCG(1, 2)),
	}
	return h
}

// terminal собирает терминальные события лобби.
type terminal struct {
	mu       sync.Mutex
	finished []Result
	closing  []int
	closed   []int
}

func watch(b *Base) *terminal {
	tr := &terminal{}
	b.OnFinished = func(r Result) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.finished = append(tr.finished, r)
	}
	b.OnClosing = func(id int) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.closing = append(tr.closing, id)
	}
	b.OnClosed = func(id int) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.closed = append(tr.closed, id)
	}
	return tr
}

func (tr *terminal) counts() (finished, closing, closed int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.finished), len(tr.closing), len(tr.closed)
}

func (tr *terminal) result(t *testing.T) Result {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.finished, 1)
	return tr.finished[0]
}

func beatmap(id, set int, rating float64) osu.Beatmap {
	return osu.Beatmap{
		ID: id, SetID: set, Mode: osu.ModeOsu, Title: "Song", Version: "Diff",
		Rating: osu.Rating{Rating: rating, RD: 50, Vol: 0.06},
		Mult:   map[string]float64{"HD": 1.05, "HR": 1.1, "DT": 1.3},
	}
}
