package fulfillment

import (
	"context"
	"errors"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

type StatusTransitioner interface {
	TransitionStatus(ctx context.Context, orderID uuid.UUID, to orders.Status) (orders.Status, error)
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, orderID uuid.UUID) error
}

type EventPublisher interface {
	PublishEnvelope(key string, env orders.Envelope) error
}

// Service applies fulfillment status requests to orders. Cache and
// Publisher are optional.
type Service struct {
	Orders      StatusTransitioner
	Dedup       Deduper
	Cache       CacheInvalidator
	Publisher   EventPublisher
	ServiceName string
}

// HandleFulfillmentRequested is the consumer handler. It returns an error
// only for faults worth retrying; bad or inapplicable events are skipped so
// their offset gets committed.
func (s *Service) HandleFulfillmentRequested(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Error().Err(err).Int64("offset", m.Offset).Msg("fulfillment: dropping malformed message")
		return nil
	}
	if env.EventType != orders.EventFulfillmentRequested {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.FulfillmentRequestedPayload](env.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("fulfillment: dropping event with bad payload")
		return nil
	}
	orderID, err := uuid.Parse(p.OrderID)
	to, ok := orders.ParseStatus(p.Status)
	if err != nil || !ok {
		log.Error().Str("event_id", env.EventID).Str("order_id", p.OrderID).Str("status", p.Status).
			Msg("fulfillment: dropping event with bad order id or status")
		return nil
	}

	// 4) transisi status di DB
	from, err := s.Orders.TransitionStatus(ctx, orderID, to)
	switch {
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrInvalidTransition):
		log.Warn().Err(err).Str("event_id", env.EventID).Stringer("order_id", orderID).Msg("fulfillment: request skipped")
		s.mark(ctx, env.EventID)
		return nil
	case err != nil:
		return err
	}

	log.Info().Stringer("order_id", orderID).Str("from", string(from)).Str("to", string(to)).Msg("fulfillment: status changed")

	if s.Cache != nil {
		if err := s.Cache.Invalidate(ctx, orderID); err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("fulfillment: cache invalidate failed")
		}
	}
	s.publishChanged(orderID, from, to, env.TraceID)
	s.mark(ctx, env.EventID)
	return nil
}

func (s *Service) mark(ctx context.Context, eventID string) {
	if err := s.Dedup.Mark(ctx, eventID); err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("fulfillment: dedup mark failed")
	}
}

func (s *Service) publishChanged(orderID uuid.UUID, from, to orders.Status, trace string) {
	if s.Publisher == nil {
		return
	}
	env, err := orders.NewEnvelope(orders.EventOrderStatusChanged, s.ServiceName, orderID.String(), trace,
		orders.OrderStatusChangedPayload{OrderID: orderID.String(), From: string(from), To: string(to)})
	if err == nil {
		err = s.Publisher.PublishEnvelope(orderID.String(), env)
	}
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("fulfillment: publish OrderStatusChanged failed")
	}
}
