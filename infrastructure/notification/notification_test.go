package notification

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterUnknownChannel(t *testing.T) {
	router := NewRouter().Handle(ChannelInApp, NewInbox())
	err := router.Dispatch(context.Background(), Message{Channel: ChannelEmail, To: []string{"a@b.c"}})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestInbox(t *testing.T) {
	inbox := NewInbox()
	router := NewRouter().Handle(ChannelInApp, inbox)
	require.NoError(t, router.Dispatch(context.Background(), Message{
		Channel: ChannelInApp, To: []string{"u1", "u2"}, Subject: "hello", Body: "task done",
	}))
	assert.Len(t, inbox.Messages("u1"), 1)
	assert.Equal(t, "task done", inbox.Messages("u2")[0].Body)
	assert.ErrorIs(t, inbox.Dispatch(context.Background(), Message{Channel: ChannelInApp}), ErrRejected)
}

func TestEmailDispatcher(t *testing.T) {
	var sent []byte
	d := NewEmailDispatcher(SMTPConfig{Host: "smtp.local", Port: 25, From: "bot@example.com"})
	d.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.local:25", addr)
		assert.Nil(t, a)
		sent = msg
		return nil
	}

	require.NoError(t, d.Dispatch(context.Background(), Message{
		Channel: ChannelEmail, To: []string{"ops@example.com"}, Subject: "Invoice due", Body: "pay up",
	}))
	assert.True(t, strings.Contains(string(sent), "Subject: Invoice due"))

	assert.ErrorIs(t, d.Dispatch(context.Background(), Message{To: []string{"nobody"}}), ErrRejected)

	d.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("dial tcp: refused") }
	assert.ErrorIs(t, d.Dispatch(context.Background(), Message{To: []string{"ops@example.com"}}), ErrUnavailable)
}

func TestHTTPDispatchers(t *testing.T) {
	var got map[string]interface{}
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer server.Close()
	ctx := context.Background()

	chat := NewChatDispatcher(server.URL, 0)
	require.NoError(t, chat.Dispatch(ctx, Message{Channel: ChannelChat, Subject: "Deploy", Body: "done"}))
	assert.Equal(t, "*Deploy*\ndone", got["text"])

	hook := NewWebhookDispatcher("", 0)
	require.NoError(t, hook.Dispatch(ctx, Message{Channel: ChannelWebhook, URL: server.URL, Body: "x"}))
	assert.Equal(t, "x", got["body"])

	status = http.StatusBadRequest
	assert.ErrorIs(t, hook.Dispatch(ctx, Message{URL: server.URL}), ErrRejected)
	status = http.StatusServiceUnavailable
	assert.ErrorIs(t, hook.Dispatch(ctx, Message{URL: server.URL}), ErrUnavailable)
	assert.ErrorIs(t, hook.Dispatch(ctx, Message{}), ErrRejected)
}
