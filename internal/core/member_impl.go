package core

import "github.com/dkeye/Conference/internal/domain"

// memberSession is immutable; updates return a copy.
type memberSession struct {
	meta   *domain.User
	signal SignalConnection
}

func NewMemberSession(meta *domain.User) MemberSession {
	return &memberSession{meta: meta}
}

func (m *memberSession) Meta() *domain.User       { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.signal }

func (m *memberSession) UpdateSignal(sc SignalConnection) MemberSession {
	cp := *m
	cp.signal = sc
	return &cp
}
