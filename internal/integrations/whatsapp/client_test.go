package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "123")
	require.Error(t, err)
	require.Contains(t, err.Error(), "access token")

	_, err = NewClient("token", " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "phone number id")
}

func TestMessagesPath(t *testing.T) {
	c, err := NewClient("token", "10987", WithAPIVersion("/v20.0/"))
	require.NoError(t, err)
	require.Equal(t, "/v20.0/10987/messages", c.messagesPath())

	c, err = NewClient("token", "10987", WithAPIVersion(""))
	require.NoError(t, err)
	require.Equal(t, "/v19.0/10987/messages", c.messagesPath())
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(srv.URL), WithTimeout(2 * time.Second)}, opts...)
	c, err := NewClient("graph-token", "10987", opts...)
	require.NoError(t, err)
	return c
}

func TestSendText_HappyPath(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v19.0/10987/messages" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer graph-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"541122334455","wa_id":"5491122334455"}],"messages":[{"id":"wamid.OUT1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	id, err := c.SendText(context.Background(), "541122334455", "hola!")
	require.NoError(t, err)
	require.Equal(t, "wamid.OUT1", id)
	require.Equal(t, "whatsapp", got.MessagingProduct)
	require.Equal(t, "541122334455", got.To)
	require.Equal(t, "text", got.Type)
	require.Equal(t, "hola!", got.Text.Body)
}

func TestSendText_EmptyRecipient(t *testing.T) {
	c, err := NewClient("graph-token", "10987")
	require.NoError(t, err)
	_, err = c.SendText(context.Background(), " ", "hi")
	require.Error(t, err)
}

func TestSendText_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendText(context.Background(), "541122334455", "hi")
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "131030")
}

func TestSendText_NoMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.SendText(context.Background(), "541122334455", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no message id")
}

func TestSendText_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithTimeout(50*time.Millisecond))
	_, err := c.SendText(context.Background(), "541122334455", "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "send request")
}
