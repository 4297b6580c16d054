package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp-relay/internal/coordination"
	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/metrics"
	"whatsapp-relay/internal/repository"
	"whatsapp-relay/internal/webhook"
)

type ConversationWriter interface {
	GetOrCreateConversation(ctx context.Context, userPhone string, origin domain.Origin) (domain.Conversation, bool, error)
	SaveMessages(ctx context.Context, msgs ...domain.Message) error
	SetDeliveryStatus(ctx context.Context, metaMessageID string, status domain.DeliveryStatus) (bool, error)
}

type Replier interface {
	Reply(ctx context.Context, userPhone, text string) (string, error)
}

type Sender interface {
	Send(ctx context.Context, to, text string) (string, bool)
}

// Outcome is what the transport adapters need to answer a POST /webhook.
// Only LaneDirect outcomes carry a Reply or an Err meant for the caller;
// platform lanes are always acknowledged.
type Outcome struct {
	Lane  webhook.Lane
	Reply string
	Err   error
}

type Dispatcher struct {
	store       ConversationWriter
	responder   Replier
	gateway     Sender
	verifyToken string
	locker      coordination.Locker
	guard       coordination.Guard
	log         zerolog.Logger
}

type DispatcherOption func(*Dispatcher)

// WithLocker replaces the default in-process per-address lock.
func WithLocker(l coordination.Locker) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.locker = l
		}
	}
}

// WithGuard enables de-duplication of redelivered platform messages.
func WithGuard(g coordination.Guard) DispatcherOption {
	return func(d *Dispatcher) {
		d.guard = g
	}
}

func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

func NewDispatcher(store ConversationWriter, responder Replier, gateway Sender, verifyToken string, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if responder == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if gateway == nil {
		return nil, errors.New("usecase: delivery gateway must not be nil")
	}
	d := &Dispatcher{
		store:       store,
		responder:   responder,
		gateway:     gateway,
		verifyToken: verifyToken,
		locker:      coordination.NewKeyedMutex(),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With().Str("component", "dispatcher").Logger()
	return d, nil
}

// Verify answers the platform's subscription handshake. It returns the
// challenge when token matches the configured secret.
func (d *Dispatcher) Verify(token, challenge string) (string, error) {
	if d.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(d.verifyToken)) != 1 {
		return "", newError(ErrorForbidden, "verify_token_mismatch", ErrVerificationFailed)
	}
	return challenge, nil
}

// Dispatch classifies body and runs the matching lane.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) Outcome {
	payload, err := webhook.Parse(body)
	if err != nil {
		var pe *webhook.ParseError
		lane := webhook.LaneUnknown
		reason := "parse_error"
		if errors.As(err, &pe) {
			lane, reason = pe.Lane, pe.Reason
		}
		d.log.Warn().Err(err).Str("lane", string(lane)).Msg("unusable webhook payload")
		metrics.WebhookEvents.WithLabelValues(string(lane), "rejected").Inc()
		if lane == webhook.LaneDirect {
			return Outcome{Lane: lane, Err: newError(ErrorInvalidInput, reason, err)}
		}
		return Outcome{Lane: lane}
	}

	switch p := payload.(type) {
	case *webhook.PlatformNotification:
		return Outcome{Lane: p.Lane(), Err: d.handlePlatform(ctx, p)}
	case *webhook.DirectMessage:
		reply, err := d.handleDirect(ctx, p)
		return Outcome{Lane: webhook.LaneDirect, Reply: reply, Err: err}
	default:
		return Outcome{Lane: webhook.LaneUnknown}
	}
}

// handlePlatform processes every item of the envelope; one failing item does
// not stop the rest. The joined error is informational only.
func (d *Dispatcher) handlePlatform(ctx context.Context, n *webhook.PlatformNotification) error {
	for _, reason := range n.Skipped {
		d.log.Info().Str("reason", reason).Msg("skipped webhook item")
		metrics.WebhookEvents.WithLabelValues(string(webhook.LaneMessage), "skipped").Inc()
	}

	var errs []error
	for _, m := range n.Messages {
		if err := d.handleMessage(ctx, m); err != nil {
			d.log.Error().Err(err).Str("wamid", m.ID).Msg("message lane failed")
			metrics.WebhookEvents.WithLabelValues(string(webhook.LaneMessage), metrics.ResultFailed).Inc()
			errs = append(errs, err)
		}
	}
	for _, s := range n.Statuses {
		if err := d.handleStatus(ctx, s); err != nil {
			d.log.Error().Err(err).Str("meta_message_id", s.MetaMessageID).Msg("status lane failed")
			metrics.WebhookEvents.WithLabelValues(string(webhook.LaneStatus), metrics.ResultFailed).Inc()
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handleMessage(ctx context.Context, m webhook.InboundMessage) error {
	log := d.log.With().Str("wamid", m.ID).Str("from", m.From).Logger()

	if d.guard != nil {
		first, err := d.guard.FirstSeen(ctx, m.ID)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("idempotency check failed, processing anyway")
		case !first:
			log.Info().Msg("duplicate delivery ignored")
			metrics.WebhookEvents.WithLabelValues(string(webhook.LaneMessage), metrics.ResultDuplicate).Inc()
			return nil
		}
	}

	if err := d.relay(ctx, m, log); err != nil {
		if d.guard != nil {
			if ferr := d.guard.Forget(ctx, m.ID); ferr != nil {
				log.Warn().Err(ferr).Msg("failed to release idempotency claim")
			}
		}
		return err
	}
	metrics.WebhookEvents.WithLabelValues(string(webhook.LaneMessage), metrics.ResultOK).Inc()
	return nil
}

func (d *Dispatcher) relay(ctx context.Context, m webhook.InboundMessage, log zerolog.Logger) error {
	addr := webhook.NormalizeAddress(m.From)
	unlock, err := d.locker.Lock(ctx, addr)
	if err != nil {
		return fmt.Errorf("usecase: relay: %w", err)
	}
	defer unlock()

	conv, created, err := d.store.GetOrCreateConversation(ctx, addr, domain.OriginWhatsApp)
	if err != nil {
		return fmt.Errorf("usecase: relay: %w", err)
	}
	if created {
		log.Info().Str("conversation_id", conv.ID).Msg("conversation created")
	}

	userMsg := repository.NewMessage(conv.ID, domain.SenderUser, m.Text)
	userMsg.Status = domain.StatusPtr(domain.StatusReceived)

	reply, err := d.responder.Reply(ctx, addr, m.Text)
	if err != nil {
		return fmt.Errorf("usecase: relay: %w", err)
	}

	metaID, sent := d.gateway.Send(ctx, addr, reply)

	botMsg := repository.NewMessage(conv.ID, domain.SenderBot, reply)
	if sent {
		botMsg.MetaMessageID = &metaID
		botMsg.Status = domain.StatusPtr(domain.StatusSent)
	}

	if err := d.store.SaveMessages(ctx, userMsg, botMsg); err != nil {
		return fmt.Errorf("usecase: relay: %w", err)
	}
	log.Info().
		Str("conversation_id", conv.ID).
		Bool("delivered", sent).
		Str("meta_message_id", metaID).
		Msg("message relayed")
	return nil
}

// handleStatus overwrites the stored status verbatim; ordering of callbacks
// is not enforced.
func (d *Dispatcher) handleStatus(ctx context.Context, s webhook.StatusUpdate) error {
	found, err := d.store.SetDeliveryStatus(ctx, s.MetaMessageID, domain.DeliveryStatus(s.Status))
	if err != nil {
		metrics.StatusUpdates.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("usecase: status update: %w", err)
	}
	if !found {
		d.log.Info().
			Str("meta_message_id", s.MetaMessageID).
			Str("status", s.Status).
			Msg("status for unknown message dropped")
		metrics.StatusUpdates.WithLabelValues(metrics.ResultUnknown).Inc()
		metrics.WebhookEvents.WithLabelValues(string(webhook.LaneStatus), metrics.ResultUnknown).Inc()
		return nil
	}
	metrics.StatusUpdates.WithLabelValues(metrics.ResultOK).Inc()
	metrics.WebhookEvents.WithLabelValues(string(webhook.LaneStatus), metrics.ResultOK).Inc()
	return nil
}

func (d *Dispatcher) handleDirect(ctx context.Context, req *webhook.DirectMessage) (string, error) {
	addr := webhook.NormalizeAddress(req.UserPhone)
	origin := domain.Origin(strings.ToLower(strings.TrimSpace(req.Origin)))
	if origin == "" {
		origin = domain.OriginWeb
	}

	reply, err := d.direct(ctx, addr, origin, req.Message)
	if err != nil {
		d.log.Error().Err(err).Str("user_phone", addr).Msg("direct lane failed")
		metrics.WebhookEvents.WithLabelValues(string(webhook.LaneDirect), metrics.ResultFailed).Inc()
		return "", newError(ErrorInternal, "direct_lane_error", err)
	}
	metrics.WebhookEvents.WithLabelValues(string(webhook.LaneDirect), metrics.ResultOK).Inc()
	return reply, nil
}

func (d *Dispatcher) direct(ctx context.Context, addr string, origin domain.Origin, text string) (string, error) {
	unlock, err := d.locker.Lock(ctx, addr)
	if err != nil {
		return "", err
	}
	defer unlock()

	conv, _, err := d.store.GetOrCreateConversation(ctx, addr, origin)
	if err != nil {
		return "", err
	}

	userMsg := repository.NewMessage(conv.ID, domain.SenderUser, text)
	userMsg.Status = domain.StatusPtr(domain.StatusReceived)

	reply, err := d.responder.Reply(ctx, addr, text)
	if err != nil {
		return "", err
	}

	botMsg := repository.NewMessage(conv.ID, domain.SenderBot, reply)
	botMsg.Status = domain.StatusPtr(domain.StatusDelivered)

	if err := d.store.SaveMessages(ctx, userMsg, botMsg); err != nil {
		return "", err
	}
	return reply, nil
}
