package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jamlink/broker/internal/v1/conntrack"
	"github.com/jamlink/broker/internal/v1/logging"
	"github.com/jamlink/broker/internal/v1/peerconn"
	"github.com/jamlink/broker/internal/v1/queue"
	"github.com/jamlink/broker/internal/v1/types"
)

// SignalService consumes coalesced queue batches: it lazily creates the
// directional aggregate for a pair on its first signaling message, applies
// the batch, persists once per batch, and flushes the pulled events.
type SignalService struct {
	repo      peerconn.Repository
	publisher types.EventPublisher
	tracker   *conntrack.Service
}

// NewSignalService wires the queue drain consumer.
func NewSignalService(repo peerconn.Repository, publisher types.EventPublisher, tracker *conntrack.Service) *SignalService {
	return &SignalService{repo: repo, publisher: publisher, tracker: tracker}
}

// BatchProcessConnection is the queue drain callback. The queue guarantees
// batches for distinct pairs are dispatched independently, so an error here
// only skips this pair's group.
func (s *SignalService) BatchProcessConnection(ctx context.Context, batch queue.Batch) error {
	c, err := s.repo.FindById(ctx, batch.ConnectionId)
	if err == peerconn.ErrUnknownConnection {
		c, err = peerconn.Create(batch.RoomId, batch.From, batch.To)
	}
	if err != nil {
		return fmt.Errorf("load connection %s: %w", batch.ConnectionId, err)
	}

	if batch.Offer != nil {
		c.HandleOffer()
	}
	if batch.Answer != nil {
		c.HandleAnswer()
	}
	for range batch.Candidates {
		c.HandleIceCandidate()
	}

	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("persist connection %s: %w", batch.ConnectionId, err)
	}
	s.tracker.Track(c)

	if err := s.publisher.PublishAll(ctx, c.PullDomainEvents()); err != nil {
		logging.Warn(ctx, "signal event publish failed",
			zap.String("connectionId", string(batch.ConnectionId)), zap.Error(err))
	}
	return nil
}
