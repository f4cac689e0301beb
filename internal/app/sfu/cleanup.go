package sfu

import (
	"github.com/dkeye/Conference/internal/domain"
	"github.com/rs/zerolog/log"
)

// CleanupUser closes every transport the user holds in the room. Producers
// and consumers on them are dropped by their close observers before this
// returns. Safe to call repeatedly.
func (s *Service) CleanupUser(roomID domain.RoomID, userID domain.UserID) {
	ids := s.Transports.ForUser(roomID, userID)
	for _, id := range ids {
		s.Transports.Close(id)
	}
	if len(ids) > 0 {
		log.Info().Str("module", "sfu.cleanup").Str("room", string(roomID)).Str("user", string(userID)).
			Int("transports", len(ids)).Msg("user media cleaned up")
	}
}

// CleanupRoom closes every transport in the room and then its router.
// Safe to call repeatedly.
func (s *Service) CleanupRoom(roomID domain.RoomID) {
	ids := s.Transports.ForRoom(roomID)
	for _, id := range ids {
		s.Transports.Close(id)
	}
	s.Routers.Close(roomID)
	log.Info().Str("module", "sfu.cleanup").Str("room", string(roomID)).Int("transports", len(ids)).
		Msg("room media cleaned up")
}
