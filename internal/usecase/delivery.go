package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"whatsapp-relay/internal/metrics"
)

type Transport interface {
	SendText(ctx context.Context, recipient, text string) (string, error)
}

// DeliveryGateway pushes replies to the messaging platform. It reports
// failure through ok=false instead of an error.
type DeliveryGateway struct {
	transport Transport
	log       zerolog.Logger
}

func NewDeliveryGateway(t Transport, log zerolog.Logger) (*DeliveryGateway, error) {
	if t == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	return &DeliveryGateway{
		transport: t,
		log:       log.With().Str("component", "delivery").Logger(),
	}, nil
}

// Send returns the provider message id and true, or "" and false.
func (g *DeliveryGateway) Send(ctx context.Context, to, text string) (string, bool) {
	id, err := g.transport.SendText(ctx, to, text)
	if err != nil || id == "" {
		evt := g.log.Error().Err(err).Str("to", to)
		if status, ok := upstreamStatusCode(err); ok {
			evt = evt.Int("upstream_status", status)
		}
		evt.Msg("whatsapp send failed")
		metrics.DeliveryTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return "", false
	}
	metrics.DeliveryTotal.WithLabelValues(metrics.ResultOK).Inc()
	return id, true
}
