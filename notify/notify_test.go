package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aypapol/gamehost"
)

type fakeSettings struct {
	values map[string]string
}

func (f *fakeSettings) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}
func (f *fakeSettings) Set(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}
func (f *fakeSettings) Unset(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}
func (f *fakeSettings) GetAll(_ context.Context) (map[string]string, error) {
	return f.values, nil
}

func TestChannelNotifierCrash(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	settings := &fakeSettings{values: map[string]string{
		gamehost.BotSettingToken:          "token123",
		gamehost.BotSettingCrashesChannel: "555",
	}}
	n := NewChannelNotifier(settings, slog.Default())
	n.apiBase = srv.URL

	require.NoError(t, n.Crash(context.Background(), "Minecraft"))

	assert.Equal(t, "/channels/555/messages", gotPath)
	assert.Equal(t, "Bot token123", gotAuth)
	embeds := gotBody["embeds"].([]any)
	require.Len(t, embeds, 1)
	assert.Contains(t, embeds[0].(map[string]any)["description"], "Minecraft")
}

func TestChannelNotifierMissingToken(t *testing.T) {
	n := NewChannelNotifier(&fakeSettings{values: map[string]string{}}, slog.Default())
	assert.Error(t, n.Crash(context.Background(), "mc"))
}

func TestChannelNotifierMissingChannel(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{
		gamehost.BotSettingToken: "token123",
	}}
	n := NewChannelNotifier(settings, slog.Default())
	assert.Error(t, n.Error(context.Background(), ErrorReport{Message: "boom"}))
}

func TestWebhookNotifier(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Crash(context.Background(), "Valheim"))
	assert.Contains(t, gotBody["content"], "Valheim")
}

func TestWebhookNotifierUnconfigured(t *testing.T) {
	n := NewWebhookNotifier("")
	assert.Error(t, n.Error(context.Background(), ErrorReport{Message: "boom"}))
}

type stubNotifier struct {
	crashErr error
	crashes  int
	errors   int
}

func (s *stubNotifier) Crash(context.Context, string) error {
	s.crashes++
	return s.crashErr
}
func (s *stubNotifier) Error(context.Context, ErrorReport) error {
	s.errors++
	return s.crashErr
}

func TestCompositeFallsBackToWebhook(t *testing.T) {
	channel := &stubNotifier{crashErr: fmt.Errorf("channel down")}
	webhook := &stubNotifier{}
	n := NewComposite(channel, webhook, slog.Default())

	require.NoError(t, n.Crash(context.Background(), "mc"))
	assert.Equal(t, 1, channel.crashes)
	assert.Equal(t, 1, webhook.crashes)
}

func TestCompositePrefersChannel(t *testing.T) {
	channel := &stubNotifier{}
	webhook := &stubNotifier{}
	n := NewComposite(channel, webhook, slog.Default())

	require.NoError(t, n.Error(context.Background(), ErrorReport{Message: "boom"}))
	assert.Equal(t, 1, channel.errors)
	assert.Zero(t, webhook.errors)
}
