package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]core.RoomService)}
}

func (f *RoomManagerImpl) CreateRoom(title string, host domain.UserID, waitingRoom bool) core.RoomService {
	room := core.NewRoomService(domain.NewRoom(title, host, waitingRoom))
	f.mu.Lock()
	f.rooms[room.Room().ID] = room
	f.mu.Unlock()
	metrics.Rooms.Inc()
	log.Info().Str("module", "app.rooms").Str("room", string(room.Room().ID)).Str("host", string(host)).
		Bool("waiting_room", waitingRoom).Msg("room created")
	return room
}

func (f *RoomManagerImpl) GetRoom(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	rooms := make([]core.RoomService, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, core.Info(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *RoomManagerImpl) RemoveRoom(id domain.RoomID) {
	f.mu.Lock()
	_, ok := f.rooms[id]
	delete(f.rooms, id)
	f.mu.Unlock()
	if ok {
		metrics.Rooms.Dec()
	}
}
