package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whatsapp-relay/internal/metrics"
	"whatsapp-relay/internal/usecase"
	"whatsapp-relay/internal/webhook"
)

const (
	correlationHeader = "X-Correlation-Id"
	eventReceived     = "EVENT_RECEIVED"

	routeRoot     = "/"
	routeWebhook  = "/webhook"
	routeNotFound = "not_found"
)

type Dispatcher interface {
	Verify(token, challenge string) (string, error)
	Dispatch(ctx context.Context, body []byte) usecase.Outcome
}

// Request is the transport-neutral view of an inbound HTTP call.
type Request struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

type replyResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewHandler(d Dispatcher, log zerolog.Logger) (*Handler, error) {
	if d == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	return &Handler{dispatcher: d, log: log.With().Str("component", "handler").Logger()}, nil
}

// Handle adapts an API Gateway proxy event to Serve.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			h.log.Warn().Err(err).Str("path", event.Path).Msg("base64 body did not decode, using it as sent")
		} else {
			body = decoded
		}
	}

	method := event.HTTPMethod
	if method == "" {
		method = event.RequestContext.HTTPMethod
	}
	resp := h.Serve(ctx, Request{
		Method:  method,
		Path:    event.Path,
		Query:   event.QueryStringParameters,
		Headers: event.Headers,
		Body:    body,
	})
	return toProxyResponse(resp), nil
}

// Serve routes req and always returns a response carrying X-Correlation-Id.
func (h *Handler) Serve(ctx context.Context, req Request) Response {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	path := normalizePath(req.Path)
	route := routeNotFound
	var resp Response
	switch path {
	case routeRoot:
		route = routeRoot
		resp = h.serveRoot(req)
	case routeWebhook:
		route = routeWebhook
		resp = h.serveWebhook(ctx, req, correlationID)
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID

	metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	h.log.Info().
		Str("correlation_id", correlationID).
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("request handled")
	return resp
}

func (h *Handler) serveRoot(req Request) Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return methodNotAllowed("GET, HEAD")
	}
	return textResponse(http.StatusOK, "whatsapp relay is running")
}

func (h *Handler) serveWebhook(ctx context.Context, req Request, correlationID string) Response {
	switch req.Method {
	case http.MethodGet:
		challenge, err := h.dispatcher.Verify(req.Query["hub.verify_token"], req.Query["hub.challenge"])
		if err != nil {
			h.log.Debug().Str("correlation_id", correlationID).Msg("webhook verification rejected")
			return textResponse(http.StatusForbidden, "verification failed")
		}
		return textResponse(http.StatusOK, challenge)
	case http.MethodPost:
		out := h.dispatcher.Dispatch(ctx, req.Body)
		if out.Lane != webhook.LaneDirect {
			return textResponse(http.StatusOK, eventReceived)
		}
		if out.Err != nil {
			return errorToResponse(out.Err)
		}
		return jsonResponse(http.StatusOK, replyResponse{Response: out.Reply})
	default:
		return methodNotAllowed("GET, POST")
	}
}

func errorToResponse(err error) Response {
	var ue *usecase.Error
	if errors.As(err, &ue) {
		switch ue.Code {
		case usecase.ErrorInvalidInput:
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(ue.Code)})
		case usecase.ErrorForbidden:
			return jsonResponse(http.StatusForbidden, errorResponse{Error: string(ue.Code)})
		}
	}
	return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
}

func methodNotAllowed(allow string) Response {
	resp := jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
	resp.Headers["Allow"] = allow
	return resp
}

func jsonResponse(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func textResponse(status int, body string) Response {
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       body,
	}
}

func toProxyResponse(r Response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       r.Body,
	}
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return routeRoot
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return routeRoot
	}
	return p
}

// headerValue looks name up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
