package bancho

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EgorLis/packbot/internal/osu"
)

// pipe — транспорт в памяти: in — от сервера, out — от клиента.
type pipe struct {
	in     chan string
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newPipe() *pipe {
	return &pipe{
		in:     make(chan string, 64),
		out:    make(chan string, 256),
		closed: make(chan struct{}),
	}
}

func (p *pipe) ReadLine() (string, error) {
	select {
	case l := <-p.in:
		return l, nil
	case <-p.closed:
		return "", io.EOF
	}
}

func (p *pipe) WriteLine(line string) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	p.out <- line
	return nil
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// next ждёт следующую строку от клиента, пропуская PING.
func (p *pipe) next(t *testing.T) string {
	t.Helper()
	for {
		select {
		case l := <-p.out:
			if strings.HasPrefix(l, "PING ") {
				continue
			}
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("no line from client")
			return ""
		}
	}
}

func (p *pipe) bancho(channel, text string) {
	p.in <- ":BanchoBot!cho@ppy.sh PRIVMSG " + channel + " :" + text
}

func connect(t *testing.T) (*Client, *pipe) {
	t.Helper()
	p := newPipe()
	c := New(Config{Username: "tester", Password: "secret"})
	c.dial = func(context.Context, string, time.Duration) (transport, error) { return p, nil }
	p.in <- ":cho.ppy.sh 001 tester :Welcome to the osu!Bancho."

	require.NoError(t, c.Connect(t.Context()))
	t.Cleanup(c.Disconnect)
	assert.Equal(t, "PASS secret", p.next(t))
	assert.Equal(t, "NICK tester", p.next(t))
	assert.Equal(t, "USER tester 0 * :tester", p.next(t))
	return c, p
}

func createLobby(t *testing.T, c *Client, p *pipe) *Lobby {
	t.Helper()
	type res struct {
		l   *Lobby
		err error
	}
	done := make(chan res, 1)
	go func() {
		l, err := c.CreateLobby(t.Context(), "test room")
		done <- res{l, err}
	}()
	assert.Equal(t, "PRIVMSG BanchoBot :!mp make test room", p.next(t))
	p.in <- ":BanchoBot!cho@ppy.sh PRIVMSG tester :Created the tournament match https://osu.ppy.sh/mp/123 test room"
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "JOIN #mp_123", p.next(t))
	return r.l
}

func TestParseLine(t *testing.T) {
	m, ok := parseLine(":BanchoBot!cho@ppy.sh PRIVMSG #mp_1 :Player 1 joined in slot 2.")
	require.True(t, ok)
	assert.Equal(t, "PRIVMSG", m.Command)
	assert.Equal(t, "BanchoBot", m.Nick())
	assert.Equal(t, "#mp_1", m.Param(0))
	assert.Equal(t, "Player 1 joined in slot 2.", m.Trailing())

	m, ok = parseLine("PING :cho.ppy.sh")
	require.True(t, ok)
	assert.Equal(t, "PING", m.Command)
	assert.Equal(t, "cho.ppy.sh", m.Trailing())

	m, ok = parseLine("@time=1 :cho.ppy.sh 403 tester #mp_5 :No such channel")
	require.True(t, ok)
	assert.Equal(t, "403", m.Command)
	assert.Equal(t, "#mp_5", m.Param(1))

	_, ok = parseLine(":prefix-only")
	assert.False(t, ok)
}

func TestParseLineEdges(t *testing.T) {
	_, ok := parseLine("")
	assert.False(t, ok)

	m, ok := parseLine("ping :cho.ppy.sh\r\n")
	require.True(t, ok)
	assert.Equal(t, "PING", m.Command)
	assert.Empty(t, m.Nick())

	m, ok = parseLine(":Some_Player!cho@ppy.sh PRIVMSG tester :!quali osu  \"HD\" 101")
	require.True(t, ok)
	assert.Equal(t, "Some_Player", m.Nick())
	assert.Equal(t, "tester", m.Param(0))
	assert.Equal(t, `!quali osu  "HD" 101`, m.Trailing())
	assert.Empty(t, m.Param(5))
}

func TestParseBanchoLine(t *testing.T) {
	e := parseBanchoLine("Some Player joined in slot 3 for team blue.")
	assert.Equal(t, evJoined, e.kind)
	assert.Equal(t, osu.Slot{Index: 3, Player: osu.User{Name: "Some Player"}, Team: "blue"}, e.slot)

	e = parseBanchoLine("Some Player finished playing (Score: 912345, FAILED).")
	assert.Equal(t, evScore, e.kind)
	assert.Equal(t, osu.Score{Player: osu.User{Name: "Some Player"}, Score: 912345}, e.score)

	assert.Equal(t, evLeft, parseBanchoLine("x left the game.").kind)
	assert.Equal(t, evAllReady, parseBanchoLine("All players are ready").kind)
	assert.Equal(t, evTimerEnded, parseBanchoLine("Countdown finished").kind)
	assert.Equal(t, evNone, parseBanchoLine("Changed beatmap to https://osu.ppy.sh/b/1 x").kind)
}

func TestParseSlot(t *testing.T) {
	s, ok := parseSlot("Slot 1  Not Ready https://osu.ppy.sh/u/2 Some Player     [Host / Team Red / Hidden, HardRock]")
	require.True(t, ok)
	assert.Equal(t, osu.Slot{
		Index:  1,
		Player: osu.User{ID: 2, Name: "Some Player"},
		Team:   "red",
		Mods:   osu.Mods{"HD", "HR"},
	}, s)

	s, ok = parseSlot("Slot 4  Ready      https://osu.ppy.sh/u/7 solo            ")
	require.True(t, ok)
	assert.True(t, s.Ready)
	assert.Equal(t, osu.User{ID: 7, Name: "solo"}, s.Player)
	assert.Empty(t, s.Mods)
}

func TestParseCreated(t *testing.T) {
	id, name, ok := parseCreated("Created the tournament match https://osu.ppy.sh/mp/98765 Maplist for x - 1")
	require.True(t, ok)
	assert.Equal(t, 98765, id)
	assert.Equal(t, "Maplist for x - 1", name)
}

func TestNextBackoff(t *testing.T) {
	d := time.Second
	for range 10 {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxBackoff, d)
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
}

func TestConnectAnswersPing(t *testing.T) {
	_, p := connect(t)
	p.in <- "PING :cho.ppy.sh"
	assert.Equal(t, "PONG :cho.ppy.sh", p.next(t))
}

func TestConnectRejectsBadPassword(t *testing.T) {
	p := newPipe()
	c := New(Config{Username: "tester", Password: "wrong"})
	c.dial = func(context.Context, string, time.Duration) (transport, error) { return p, nil }
	p.in <- ":cho.ppy.sh 464 tester :Bad authentication token."

	err := c.Connect(t.Context())
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, c.IsConnected())
}

func TestPrivateMessages(t *testing.T) {
	c, p := connect(t)
	got := make(chan osu.Message, 1)
	c.OnPM = func(m osu.Message) { got <- m }

	p.in <- ":Some_Player!cho@ppy.sh PRIVMSG tester :!q osu"
	select {
	case m := <-got:
		assert.Equal(t, osu.Message{User: osu.User{Name: "Some_Player"}, Content: "!q osu"}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("no pm")
	}

	require.NoError(t, c.SendPM(osu.User{Name: "Some Player"}, "hello"))
	assert.Equal(t, "PRIVMSG Some_Player :hello", p.next(t))
	assert.Error(t, c.SendPM(osu.User{ID: 5}, "no name"))
}

func TestCreateLobbyRequiresConnection(t *testing.T) {
	c := New(Config{})
	_, err := c.CreateLobby(t.Context(), "x")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLobbyCommands(t *testing.T) {
	c, p := connect(t)
	l := createLobby(t, c, p)
	assert.Equal(t, 123, l.ID())
	assert.Equal(t, "test room", l.Name())
	assert.Equal(t, 1, c.Lobbies())

	require.NoError(t, l.SetSettings(osu.HeadToHead, osu.WinScoreV2, 8))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp set 0 3 8", p.next(t))
	require.NoError(t, l.Invite(osu.User{ID: 42, Name: "x"}))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp invite #42", p.next(t))
	require.NoError(t, l.SetMap(555, osu.ModeMania))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp map 555 3", p.next(t))
	require.NoError(t, l.SetMods("NF HD", true))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp mods NF HD Freemod", p.next(t))
	require.NoError(t, l.SetMods("", false))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp mods None", p.next(t))
	require.NoError(t, l.Start(5))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp start 5", p.next(t))
	require.NoError(t, l.StartTimer(60))
	assert.Equal(t, "PRIVMSG #mp_123 :!mp timer 60", p.next(t))
	require.NoError(t, l.AbortTimer())
	assert.Equal(t, "PRIVMSG #mp_123 :!mp aborttimer", p.next(t))

	require.NoError(t, l.Close())
	assert.Equal(t, "PRIVMSG #mp_123 :!mp close", p.next(t))
	assert.Equal(t, "PART #mp_123", p.next(t))
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Say("late"), ErrClosed)
	assert.Equal(t, 0, c.Lobbies())
}

func TestLobbyEventsInOrder(t *testing.T) {
	c, p := connect(t)
	l := createLobby(t, c, p)

	events := make(chan string, 16)
	var scores []osu.Score
	l.Listen(osu.RoomEvents{
		PlayerJoined: func(s osu.Slot) { events <- "joined " + s.Player.Name },
		PlayerLeft:   func(u osu.User) { events <- "left " + u.Name },
		AllReady:     func() { events <- "ready" },
		MatchFinished: func(s []osu.Score) {
			scores = s
			events <- "finished"
		},
		TimerEnded: func() { events <- "timer" },
		Message:    func(m osu.Message) { events <- "chat " + m.User.Name + ": " + m.Content },
	})

	p.bancho("#mp_123", "alice joined in slot 1.")
	p.bancho("#mp_123", "bob joined in slot 2.")
	p.in <- ":bob!cho@ppy.sh PRIVMSG #mp_123 :skip"
	p.bancho("#mp_123", "All players are ready")
	p.bancho("#mp_123", "The match has started!")
	p.bancho("#mp_123", "alice finished playing (Score: 500, PASSED).")
	p.bancho("#mp_123", "bob finished playing (Score: 400, FAILED).")
	p.bancho("#mp_123", "The match has finished!")
	p.bancho("#mp_123", "bob left the game.")
	p.bancho("#mp_123", "Countdown finished")

	var got []string
	for range 7 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("events so far: %v", got)
		}
	}
	assert.Equal(t, []string{
		"joined alice", "joined bob", "chat bob: skip", "ready",
		"finished", "left bob", "timer",
	}, got)
	assert.Equal(t, []osu.Score{
		{Player: osu.User{Name: "alice"}, Score: 500, Pass: true},
		{Player: osu.User{Name: "bob"}, Score: 400},
	}, scores)
	assert.Equal(t, []osu.Slot{{Index: 1, Player: osu.User{Name: "alice"}}}, l.Slots())
}

func TestUnlistenDoesNotWaitForDelivery(t *testing.T) {
	c, p := connect(t)
	l := createLobby(t, c, p)

	entered := make(chan struct{})
	release := make(chan struct{})
	l.Listen(osu.RoomEvents{PlayerJoined: func(osu.Slot) {
		close(entered)
		<-release
	}})
	p.bancho("#mp_123", "alice joined in slot 1.")
	<-entered

	done := make(chan error, 1)
	go func() { done <- l.Unlisten() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Unlisten blocked on a running handler")
	}
	close(release)
}

func TestRefreshFromEventHandler(t *testing.T) {
	c, p := connect(t)
	l := createLobby(t, c, p)

	refreshed := make(chan error, 1)
	l.Listen(osu.RoomEvents{PlayerLeft: func(osu.User) {
		refreshed <- l.Refresh(context.Background())
	}})
	p.bancho("#mp_123", "ghost left the game.")
	assert.Equal(t, "PRIVMSG #mp_123 :!mp settings", p.next(t))

	p.bancho("#mp_123", "Room name: test room, History: https://osu.ppy.sh/mp/123")
	p.bancho("#mp_123", "Players: 2")
	p.bancho("#mp_123", "Slot 1  Ready      https://osu.ppy.sh/u/11 alice           [Host / Hidden]")
	p.bancho("#mp_123", "Slot 3  Not Ready  https://osu.ppy.sh/u/12 bob")

	select {
	case err := <-refreshed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not complete")
	}
	assert.Equal(t, []osu.Slot{
		{Index: 1, Player: osu.User{ID: 11, Name: "alice"}, Ready: true, Mods: osu.Mods{"HD"}},
		{Index: 3, Player: osu.User{ID: 12, Name: "bob"}},
	}, l.Slots())
}

func TestRoomClosedOutside(t *testing.T) {
	c, p := connect(t)
	l := createLobby(t, c, p)

	p.bancho("#mp_123", "Closed the match")
	require.Eventually(t, func() bool { return c.Lobbies() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, l.Say("x"), ErrClosed)
}
