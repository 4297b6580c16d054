package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/metrics"
)

type Generator interface {
	Generate(ctx context.Context, turns []domain.ChatTurn) (string, error)
}

// Responder turns an inbound utterance into a reply. Generation failures
// never surface: they produce the fallback text.
type Responder struct {
	memory   *Memory
	gen      Generator
	persona  string
	fallback string
	log      zerolog.Logger
}

func NewResponder(memory *Memory, gen Generator, persona, fallback string, log zerolog.Logger) (*Responder, error) {
	if memory == nil {
		return nil, errors.New("usecase: memory must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if strings.TrimSpace(fallback) == "" {
		return nil, errors.New("usecase: fallback reply must not be empty")
	}
	return &Responder{
		memory:   memory,
		gen:      gen,
		persona:  persona,
		fallback: fallback,
		log:      log.With().Str("component", "responder").Logger(),
	}, nil
}

// Reply returns an error only when the history could not be read.
func (r *Responder) Reply(ctx context.Context, userPhone, text string) (string, error) {
	history, err := r.memory.Load(ctx, userPhone)
	if err != nil {
		return "", err
	}

	reply, err := r.gen.Generate(ctx, buildTurns(r.persona, history, text))
	if err == nil && strings.TrimSpace(reply) != "" {
		metrics.GenerationTotal.WithLabelValues(metrics.ResultOK).Inc()
		return reply, nil
	}

	evt := r.log.Error().Err(err).Int("history_turns", len(history))
	if status, ok := upstreamStatusCode(err); ok {
		evt = evt.Int("upstream_status", status)
	}
	if err == nil {
		evt = r.log.Warn().Int("history_turns", len(history))
	}
	evt.Msg("generation failed, using fallback reply")
	metrics.GenerationTotal.WithLabelValues(metrics.ResultFallback).Inc()
	return r.fallback, nil
}
