package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
	defaultTimeout    = 10 * time.Second
)

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// HTTPStatusError captures non-2xx Graph API responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends text messages through the WhatsApp Cloud API.
type Client struct {
	http          *resty.Client
	apiVersion    string
	phoneNumberID string
}

type Option func(*options)

type options struct {
	baseURL    string
	apiVersion string
	timeout    time.Duration
}

func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithAPIVersion(version string) Option {
	return func(o *options) {
		o.apiVersion = strings.Trim(strings.TrimSpace(version), "/")
	}
}

// WithTimeout bounds each send. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewClient(accessToken, phoneNumberID string, opts ...Option) (*Client, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("whatsapp: access token must not be empty")
	}
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}

	o := options{baseURL: defaultBaseURL, apiVersion: defaultAPIVersion, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.baseURL == "" {
		o.baseURL = defaultBaseURL
	}
	if o.apiVersion == "" {
		o.apiVersion = defaultAPIVersion
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(o.baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetAuthToken(accessToken).
			SetTimeout(o.timeout),
		apiVersion:    o.apiVersion,
		phoneNumberID: phoneNumberID,
	}, nil
}

func (c *Client) messagesPath() string {
	return "/" + c.apiVersion + "/" + url.PathEscape(c.phoneNumberID) + "/messages"
}

// SendText posts a text message to recipient and returns the wamid the
// platform assigned to it.
func (c *Client) SendText(ctx context.Context, recipient, text string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", errors.New("whatsapp: recipient must not be empty")
	}

	var out sendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               recipient,
			Type:             "text",
			Text:             textBody{Body: text},
		}).
		SetResult(&out).
		Post(c.messagesPath())
	if err != nil {
		return "", fmt.Errorf("whatsapp: send request: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 4096 {
			body = body[:4096]
		}
		return "", &HTTPStatusError{
			StatusCode: resp.StatusCode(),
			URL:        resp.Request.URL,
			Body:       body,
		}
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("whatsapp: response carried no message id")
	}
	return out.Messages[0].ID, nil
}
