package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/metrics"
	"github.com/rs/zerolog/log"
)

type ProducerInfo struct {
	ID          string         `json:"producerId"`
	RoomID      domain.RoomID  `json:"-"`
	UserID      domain.UserID  `json:"userId"`
	TransportID string         `json:"-"`
	Kind        media.Kind     `json:"kind"`
	Paused      bool           `json:"paused"`
	AppData     map[string]any `json:"appData,omitempty"`
}

type ConsumerInfo struct {
	ID            string              `json:"id"`
	RoomID        domain.RoomID       `json:"-"`
	UserID        domain.UserID       `json:"-"`
	TransportID   string              `json:"-"`
	ProducerID    string              `json:"producerId"`
	Kind          media.Kind          `json:"kind"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
	Paused        bool                `json:"paused"`
}

type producerEntry struct {
	info     ProducerInfo
	seq      uint64
	producer media.Producer
}

type consumerEntry struct {
	info     ConsumerInfo
	consumer media.Consumer
}

// StreamHooks are called after a stream left the registry, whatever the
// reason. They run on the goroutine that triggered the close.
type StreamHooks struct {
	ProducerClosed func(ProducerInfo)
	ConsumerClosed func(ConsumerInfo)
}

// StreamRegistry tracks producers and consumers by id. Entries are inserted
// before their close observer is attached, so an object closed while it was
// being created never stays registered.
type StreamRegistry struct {
	routers    *RouterRegistry
	transports *TransportRegistry

	mu        sync.RWMutex
	seq       uint64
	producers map[string]*producerEntry
	consumers map[string]*consumerEntry
	hooks     StreamHooks
}

func NewStreamRegistry(routers *RouterRegistry, transports *TransportRegistry) *StreamRegistry {
	return &StreamRegistry{
		routers:    routers,
		transports: transports,
		producers:  make(map[string]*producerEntry),
		consumers:  make(map[string]*consumerEntry),
	}
}

func (s *StreamRegistry) SetHooks(h StreamHooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

func (s *StreamRegistry) Produce(ctx context.Context, transportID string, kind media.Kind, params media.RtpParameters, appData map[string]any) (ProducerInfo, error) {
	te, ok := s.transports.lookup(transportID)
	if !ok {
		return ProducerInfo{}, domain.ErrTransportNotFound
	}
	if te.Direction != DirectionSend {
		return ProducerInfo{}, fmt.Errorf("%w: produce on %s transport", domain.ErrInvalidDirection, te.Direction)
	}
	if !kind.Valid() {
		return ProducerInfo{}, fmt.Errorf("%w: kind %q", domain.ErrBadPayload, kind)
	}

	tagged := map[string]any{"roomId": string(te.RoomID), "userId": string(te.UserID)}
	for k, v := range appData {
		tagged[k] = v
	}
	p, err := te.transport.Produce(ctx, media.ProducerOptions{Kind: kind, RtpParameters: params, AppData: tagged})
	if err != nil {
		return ProducerInfo{}, fmt.Errorf("produce %s: %w", kind, err)
	}

	info := ProducerInfo{
		ID:          p.ID(),
		RoomID:      te.RoomID,
		UserID:      te.UserID,
		TransportID: transportID,
		Kind:        kind,
		AppData:     appData,
	}
	s.mu.Lock()
	s.seq++
	s.producers[info.ID] = &producerEntry{info: info, seq: s.seq, producer: p}
	s.mu.Unlock()
	metrics.Producers.WithLabelValues(string(kind)).Inc()

	p.OnClose(func() { s.removeProducer(info.ID) })
	if _, ok := s.Producer(info.ID); !ok {
		return ProducerInfo{}, fmt.Errorf("%w: transport %s closed while producing", domain.ErrTransportNotFound, transportID)
	}

	log.Info().Str("module", "sfu.streams").Str("room", string(info.RoomID)).Str("user", string(info.UserID)).
		Str("producer", info.ID).Str("kind", string(kind)).Msg("producer created")
	return info, nil
}

func (s *StreamRegistry) CloseProducer(id string) error {
	e, ok := s.removeProducer(id)
	if !ok {
		return domain.ErrProducerNotFound
	}
	e.producer.Close()
	return nil
}

func (s *StreamRegistry) PauseProducer(id string) (media.Kind, error) {
	return s.setProducerPaused(id, true)
}

func (s *StreamRegistry) ResumeProducer(id string) (media.Kind, error) {
	return s.setProducerPaused(id, false)
}

func (s *StreamRegistry) setProducerPaused(id string, paused bool) (media.Kind, error) {
	s.mu.RLock()
	e, ok := s.producers[id]
	s.mu.RUnlock()
	if !ok {
		return "", domain.ErrProducerNotFound
	}
	var err error
	if paused {
		err = e.producer.Pause()
	} else {
		err = e.producer.Resume()
	}
	if err != nil {
		return "", fmt.Errorf("producer %s: %w", id, err)
	}
	s.mu.Lock()
	if cur, ok := s.producers[id]; ok {
		cur.info.Paused = paused
	}
	s.mu.Unlock()
	return e.info.Kind, nil
}

func (s *StreamRegistry) removeProducer(id string) (*producerEntry, bool) {
	s.mu.Lock()
	e, ok := s.producers[id]
	delete(s.producers, id)
	hook := s.hooks.ProducerClosed
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	metrics.Producers.WithLabelValues(string(e.info.Kind)).Dec()
	log.Info().Str("module", "sfu.streams").Str("room", string(e.info.RoomID)).Str("producer", id).Msg("producer removed")
	if hook != nil {
		hook(e.info)
	}
	return e, true
}

// Consume subscribes the recv transport to a producer. The consumer starts
// paused; the client resumes it once its track is wired.
func (s *StreamRegistry) Consume(ctx context.Context, roomID domain.RoomID, userID domain.UserID, transportID, producerID string, caps media.RtpCapabilities) (ConsumerInfo, error) {
	router, ok := s.routers.Get(roomID)
	if !ok {
		return ConsumerInfo{}, domain.ErrRouterNotFound
	}
	te, ok := s.transports.lookup(transportID)
	if !ok || te.RoomID != roomID || te.UserID != userID {
		return ConsumerInfo{}, domain.ErrTransportNotFound
	}
	if te.Direction != DirectionRecv {
		return ConsumerInfo{}, fmt.Errorf("%w: consume on %s transport", domain.ErrInvalidDirection, te.Direction)
	}
	s.mu.RLock()
	pe, ok := s.producers[producerID]
	s.mu.RUnlock()
	if !ok || pe.info.RoomID != roomID {
		return ConsumerInfo{}, domain.ErrProducerNotFound
	}
	if !router.CanConsume(producerID, caps) {
		return ConsumerInfo{}, domain.ErrIncompatibleCapabilities
	}

	c, err := te.transport.Consume(ctx, media.ConsumerOptions{ProducerID: producerID, RtpCapabilities: caps, Paused: true})
	if err != nil {
		return ConsumerInfo{}, fmt.Errorf("consume %s: %w", producerID, err)
	}

	info := ConsumerInfo{
		ID:            c.ID(),
		RoomID:        roomID,
		UserID:        userID,
		TransportID:   transportID,
		ProducerID:    producerID,
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
		Paused:        true,
	}
	s.mu.Lock()
	s.consumers[info.ID] = &consumerEntry{info: info, consumer: c}
	s.mu.Unlock()
	metrics.Consumers.WithLabelValues(string(info.Kind)).Inc()

	c.OnClose(func() { s.removeConsumer(info.ID) })
	if _, ok := s.Consumer(info.ID); !ok {
		if _, ok := s.transports.lookup(transportID); !ok {
			return ConsumerInfo{}, fmt.Errorf("%w: transport %s closed while consuming", domain.ErrTransportNotFound, transportID)
		}
		return ConsumerInfo{}, fmt.Errorf("%w: producer %s closed while consuming", domain.ErrProducerNotFound, producerID)
	}

	log.Info().Str("module", "sfu.streams").Str("room", string(roomID)).Str("user", string(userID)).
		Str("consumer", info.ID).Str("producer", producerID).Msg("consumer created")
	return info, nil
}

func (s *StreamRegistry) ResumeConsumer(id string) error {
	s.mu.RLock()
	e, ok := s.consumers[id]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrConsumerNotFound
	}
	if err := e.consumer.Resume(); err != nil {
		return fmt.Errorf("consumer %s: %w", id, err)
	}
	s.mu.Lock()
	if cur, ok := s.consumers[id]; ok {
		cur.info.Paused = false
	}
	s.mu.Unlock()
	return nil
}

func (s *StreamRegistry) CloseConsumer(id string) error {
	e, ok := s.removeConsumer(id)
	if !ok {
		return domain.ErrConsumerNotFound
	}
	e.consumer.Close()
	return nil
}

func (s *StreamRegistry) removeConsumer(id string) (*consumerEntry, bool) {
	s.mu.Lock()
	e, ok := s.consumers[id]
	delete(s.consumers, id)
	hook := s.hooks.ConsumerClosed
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	metrics.Consumers.WithLabelValues(string(e.info.Kind)).Dec()
	if hook != nil {
		hook(e.info)
	}
	return e, true
}

// ListProducers returns the room's producers in creation order, skipping
// those owned by excluding when it is non-empty.
func (s *StreamRegistry) ListProducers(roomID domain.RoomID, excluding domain.UserID) []ProducerInfo {
	return s.producersWhere(func(p ProducerInfo) bool {
		return p.RoomID == roomID && (excluding == "" || p.UserID != excluding)
	})
}

func (s *StreamRegistry) ProducersOf(roomID domain.RoomID, userID domain.UserID) []ProducerInfo {
	return s.producersWhere(func(p ProducerInfo) bool { return p.RoomID == roomID && p.UserID == userID })
}

func (s *StreamRegistry) producersWhere(keep func(ProducerInfo) bool) []ProducerInfo {
	s.mu.RLock()
	matched := make([]*producerEntry, 0)
	for _, e := range s.producers {
		if keep(e.info) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]ProducerInfo, len(matched))
	for i, e := range matched {
		out[i] = e.info
	}
	return out
}

func (s *StreamRegistry) Producer(id string) (ProducerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.producers[id]
	if !ok {
		return ProducerInfo{}, false
	}
	return e.info, true
}

func (s *StreamRegistry) Consumer(id string) (ConsumerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.consumers[id]
	if !ok {
		return ConsumerInfo{}, false
	}
	return e.info, true
}

// Counts reports registered producers and consumers.
func (s *StreamRegistry) Counts() (producers, consumers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.producers), len(s.consumers)
}

// RoomHasStreams reports whether any producer or consumer belongs to roomID.
func (s *StreamRegistry) RoomHasStreams(roomID domain.RoomID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.producers {
		if e.info.RoomID == roomID {
			return true
		}
	}
	for _, e := range s.consumers {
		if e.info.RoomID == roomID {
			return true
		}
	}
	return false
}

func (s *StreamRegistry) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.producers {
		metrics.Producers.WithLabelValues(string(e.info.Kind)).Dec()
	}
	for _, e := range s.consumers {
		metrics.Consumers.WithLabelValues(string(e.info.Kind)).Dec()
	}
	s.producers = make(map[string]*producerEntry)
	s.consumers = make(map[string]*consumerEntry)
}
