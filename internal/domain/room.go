package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxRoomTitleLen = 64

type RoomID string

type RoomState string

const (
	RoomOpen   RoomState = "open"
	RoomClosed RoomState = "closed"
)

type Room struct {
	ID          RoomID    `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	HostID      UserID    `json:"hostId"`
	WaitingRoom bool      `json:"waitingRoom"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRoom allocates a fresh id and a short join code.
func NewRoom(title string, host UserID, waitingRoom bool) *Room {
	title = strings.TrimSpace(title)
	if len(title) > MaxRoomTitleLen {
		cut := MaxRoomTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	id := uuid.New()
	code := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return &Room{
		ID:          RoomID(id.String()),
		Code:        code[:4] + "-" + code[4:],
		Title:       title,
		HostID:      host,
		WaitingRoom: waitingRoom,
		CreatedAt:   time.Now().UTC(),
	}
}
