package lobby

import (
	"context"
	"errors"
	"sync"

	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/store"
)

var (
	// ErrNoRoom — операция над лобби до того, как создана комната.
	ErrNoRoom = errors.New("lobby: room is not created")
	// ErrNoBeatmaps — даже без фильтров подходящих карт нет.
	ErrNoBeatmaps = errors.New("lobby: no beatmaps available")
)

// Room — мультиплеерная комната, которой управляет лобби.
type Room interface {
	ID() int
	Name() string
	Say(text string) error
	SetSettings(team osu.TeamMode, win osu.WinCondition, size int) error
	// Invite принимает ник или "#id" (osu.User.Invite).
	Invite(u osu.User) error
	SetMap(id int, mode osu.Mode) error
	// SetMods: mods — короткие имена через пробел ("NF HD"), пусто — без модов.
	SetMods(mods string, freemod bool) error
	Start(countdown int) error
	StartTimer(seconds int) error
	AbortTimer() error
	// Refresh перечитывает занятые слоты ("!mp settings").
	Refresh(ctx context.Context) error
	Slots() []osu.Slot
	Listen(ev osu.RoomEvents)
	Unlisten() error
	Close() error
}

type RoomCreator interface {
	CreateRoom(ctx context.Context, name string) (Room, error)
}

// CreatorFunc — адаптер функции к RoomCreator.
type CreatorFunc func(ctx context.Context, name string) (Room, error)

func (f CreatorFunc) CreateRoom(ctx context.Context, name string) (Room, error) {
	return f(ctx, name)
}

// Store — то, что лобби читают из хранилища.
type Store interface {
	Player(ctx context.Context, u osu.User) (store.Player, bool, error)
	Beatmap(ctx context.Context, mode osu.Mode, id int) (osu.Beatmap, bool, error)
	SampleBeatmap(ctx context.Context, q store.BeatmapQuery) (osu.Beatmap, bool, error)
}

// Reporter отправляет итог лобби во внешний сервис.
type Reporter interface {
	Submit(ctx context.Context, r Result) error
}

// Interrupts — обработчики выключения процесса. Каждое активное лобби
// регистрируется на старте и снимается при закрытии.
type Interrupts struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func()
}

func NewInterrupts() *Interrupts {
	return &Interrupts{handlers: make(map[int]func())}
}

func (in *Interrupts) Register(fn func()) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.next++
	in.handlers[in.next] = fn
	return in.next
}

func (in *Interrupts) Unregister(id int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.handlers, id)
}

func (in *Interrupts) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.handlers)
}

// Fire вызывает все обработчики по очереди. Обработчик может сам себя
// снять через Unregister.
func (in *Interrupts) Fire() {
	in.mu.Lock()
	fns := make([]func(), 0, len(in.handlers))
	for id := 1; id <= in.next; id++ {
		if fn, ok := in.handlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	in.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
