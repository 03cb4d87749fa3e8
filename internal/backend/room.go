package backend

import (
	"sort"
	"sync"
	"time"

	"codecollab/internal/protocol"
)

// Room is the shared state of one collaborative session.
type Room struct {
	ID        string
	CreatedAt time.Time

	// order serialises updates with their broadcasts so every member sees
	// syncs and chat in the same order.
	order sync.Mutex

	mu       sync.RWMutex
	code     string
	language string
	members  map[*client]bool
	history  *RingBuffer[protocol.ChatPayload]
}

// RoomInfo is the REST view of a room.
type RoomInfo struct {
	ID           string    `json:"id"`
	Language     string    `json:"language"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (r *Room) state() (code, language string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.code, r.language
}

func (r *Room) setState(code, language string) {
	r.mu.Lock()
	r.code, r.language = code, language
	r.mu.Unlock()
}

// publish applies update and runs broadcast under the room's order lock.
func (r *Room) publish(update, broadcast func()) {
	r.order.Lock()
	defer r.order.Unlock()
	update()
	broadcast()
}

func (r *Room) memberList() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

func (r *Room) info() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomInfo{ID: r.ID, Language: r.language, Participants: len(r.members), CreatedAt: r.CreatedAt}
}

// Rooms is the registry of rooms, created on first join and dropped when
// the last member leaves.
type Rooms struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	historySize int
}

func NewRooms(historySize int) *Rooms {
	return &Rooms{rooms: make(map[string]*Room), historySize: historySize}
}

// Join adds c to the room, creating it with empty python code if needed.
// welcome runs after c is added and before any other update reaches the
// room, so it sees state and history exactly once.
func (rs *Rooms) Join(id string, c *client, welcome func(*Room)) *Room {
	rs.mu.Lock()
	r, ok := rs.rooms[id]
	if !ok {
		r = &Room{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			language:  protocol.DefaultLanguage,
			members:   make(map[*client]bool),
			history:   NewRingBuffer[protocol.ChatPayload](rs.historySize),
		}
		rs.rooms[id] = r
	}
	r.order.Lock()
	defer r.order.Unlock()
	r.mu.Lock()
	r.members[c] = true
	r.mu.Unlock()
	rs.mu.Unlock()

	if welcome != nil {
		welcome(r)
	}
	return r
}

// Leave removes c and drops the room once it is empty.
func (rs *Rooms) Leave(r *Room, c *client) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r.mu.Lock()
	delete(r.members, c)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty && rs.rooms[r.ID] == r {
		delete(rs.rooms, r.ID)
	}
}

func (rs *Rooms) Get(id string) (*Room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.rooms[id]
	return r, ok
}

// List returns every room ordered by creation time.
func (rs *Rooms) List() []RoomInfo {
	rs.mu.RLock()
	infos := make([]RoomInfo, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		infos = append(infos, r.info())
	}
	rs.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}
