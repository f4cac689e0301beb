package app

import (
	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// AdmissionPolicy decides whether a join request has to wait for a host.
type AdmissionPolicy interface {
	RequiresAdmission(room *domain.Room, role domain.Role) bool
}

// WaitingRoomPolicy parks everyone but the host in rooms that have a waiting
// room. Co-hosts are let through when CoHostBypass is set.
type WaitingRoomPolicy struct {
	CoHostBypass bool
}

func (p WaitingRoomPolicy) RequiresAdmission(room *domain.Room, role domain.Role) bool {
	if !room.WaitingRoom {
		return false
	}
	switch role {
	case domain.RoleHost:
		return false
	case domain.RoleCoHost:
		return !p.CoHostBypass
	}
	return true
}
