package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5491122334455", "541122334455"},
		{"541122334455", "541122334455"},
		{" 5491122334455 ", "541122334455"},
		{"54911223344", "54911223344"},
		{"15551234567", "15551234567"},
		{"web-123", "web-123"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeAddress(tc.in), "in=%q", tc.in)
	}
}

func TestNormalizeAddress_Idempotent(t *testing.T) {
	for _, in := range []string{"5491122334455", "541122334455", "5499999999999", "web-123"} {
		once := NormalizeAddress(in)
		require.Equal(t, once, NormalizeAddress(once), "in=%q", in)
	}
}

func expectParseError(t *testing.T, err error, lane Lane) *ParseError {
	t.Helper()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, lane, perr.Lane)
	return perr
}

func TestParse_PlatformMessage(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
		"messaging_product":"whatsapp",
		"messages":[{"from":"5491122334455","id":"wamid.IN1","type":"text","text":{"body":" hola "}}]}}]}]}`

	p, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, LaneMessage, p.Lane())

	n, ok := p.(*PlatformNotification)
	require.True(t, ok)
	require.Equal(t, []InboundMessage{{ID: "wamid.IN1", From: "541122334455", Text: "hola"}}, n.Messages)
	require.Empty(t, n.Statuses)
	require.Empty(t, n.Skipped)
}

func TestParse_PlatformStatus(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.OUT1","status":"delivered","recipient_id":"5491122334455"}]}}]}]}`

	p, err := Parse([]byte(body))
	require.NoError(t, err)
	require.Equal(t, LaneStatus, p.Lane())

	n := p.(*PlatformNotification)
	require.Equal(t, []StatusUpdate{{MetaMessageID: "wamid.OUT1", Status: "delivered", RecipientID: "541122334455"}}, n.Statuses)
}

func TestParse_WalksEveryEntryAndChange(t *testing.T) {
	body := `{"entry":[
		{"changes":[{"value":{"messages":[{"from":"1","id":"a","type":"text","text":{"body":"one"}}]}}]},
		{"changes":[
			{"value":{"messages":[{"from":"2","id":"b","type":"text","text":{"body":"two"}}]}},
			{"value":{"statuses":[{"id":"c","status":"read"}]}}
		]}
	]}`

	p, err := Parse([]byte(body))
	require.NoError(t, err)
	n := p.(*PlatformNotification)
	require.Len(t, n.Messages, 2)
	require.Len(t, n.Statuses, 1)
	require.Equal(t, LaneMessage, n.Lane())
}

func TestParse_SkipsUnusableItems(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"from":"1","id":"img","type":"image","image":{"id":"x"}},
		{"from":"1","id":"notext","type":"text"},
		{"id":"nofrom","type":"text","text":{"body":"hi"}},
		{"from":"1","id":"ok","type":"text","text":{"body":"hi"}}
	],"statuses":[{"id":"","status":"sent"}]}}]}]}`

	p, err := Parse([]byte(body))
	require.NoError(t, err)
	n := p.(*PlatformNotification)
	require.Len(t, n.Messages, 1)
	require.Equal(t, "ok", n.Messages[0].ID)
	require.Empty(t, n.Statuses)
	require.Len(t, n.Skipped, 4)
	require.Contains(t, n.Skipped[0], "unsupported message type image")
}

func TestParse_PlatformWithoutItems(t *testing.T) {
	_, err := Parse([]byte(`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{}}]}]}`))
	perr := expectParseError(t, err, LaneMessage)
	require.Equal(t, "no_messages_or_statuses", perr.Reason)
}

func TestParse_PlatformWrongShape(t *testing.T) {
	_, err := Parse([]byte(`{"entry":{"changes":"nope"}}`))
	perr := expectParseError(t, err, LaneMessage)
	require.Equal(t, "invalid_envelope", perr.Reason)
}

func TestParse_DirectMessage(t *testing.T) {
	p, err := Parse([]byte(`{"user_phone":"web-123","message":" hi "}`))
	require.NoError(t, err)
	require.Equal(t, LaneDirect, p.Lane())
	require.Equal(t, &DirectMessage{UserPhone: "web-123", Message: "hi"}, p)

	p, err = Parse([]byte(`{"user_phone":"5491122334455","message":"hi","origin":"kiosk"}`))
	require.NoError(t, err)
	require.Equal(t, &DirectMessage{UserPhone: "541122334455", Message: "hi", Origin: "kiosk"}, p)
}

func TestParse_DirectMissingFields(t *testing.T) {
	_, err := Parse([]byte(`{"message":"hi"}`))
	perr := expectParseError(t, err, LaneDirect)
	require.Equal(t, "missing_fields", perr.Reason)

	_, err = Parse([]byte(`{"user_phone":"web-1","message":"   "}`))
	expectParseError(t, err, LaneDirect)

	_, err = Parse([]byte(`{"user_phone":7,"message":"hi"}`))
	perr = expectParseError(t, err, LaneDirect)
	require.Equal(t, "invalid_body", perr.Reason)
}

func TestParse_Unrecognized(t *testing.T) {
	_, err := Parse([]byte(`not-json`))
	perr := expectParseError(t, err, LaneUnknown)
	require.Equal(t, "invalid_json", perr.Reason)

	_, err = Parse([]byte(`{"hello":"world"}`))
	perr = expectParseError(t, err, LaneUnknown)
	require.Equal(t, "unrecognized_shape", perr.Reason)

	_, err = Parse([]byte(`[1,2]`))
	expectParseError(t, err, LaneUnknown)
}
