// ABOUTME: End-to-end tests of the driver client against the fake driver
// ABOUTME: Runs the fake driver on httptest and dials it with driver.Dialer

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botkeeper/internal/agent"
	"github.com/2389/botkeeper/internal/driver"
)

var testBot = agent.Options{Username: "RIDER420", Host: "mc.example.net", Port: 25565, Version: "1.12.1"}

func dialFake(t *testing.T, opts options) agent.Session {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newFakeDriver(opts, logger))
	t.Cleanup(srv.Close)

	dialer := driver.NewDialer(driver.DialerConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger: logger,
	})
	sess, err := dialer.Dial(context.Background(), testBot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func nextEvent(t *testing.T, sess agent.Session) agent.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return agent.Event{}
	}
}

func TestFakeDriver_SpawnAndNavigate(t *testing.T) {
	sess := dialFake(t, options{spawnDelay: 10 * time.Millisecond})

	assert.Equal(t, agent.EventSpawned, nextEvent(t, sess).Type)
	pos, ok := sess.Position()
	require.True(t, ok)
	assert.Equal(t, agent.Position{X: 0, Y: 64, Z: 0}, pos)

	require.NoError(t, sess.Chat(context.Background(), "Hello! I am back and ready to assist!"))
	require.NoError(t, sess.Navigate(context.Background(), agent.Block{X: 120, Y: 64, Z: -37}))

	assert.Eventually(t, func() bool {
		pos, ok := sess.Position()
		return ok && pos == agent.Position{X: 120, Y: 64, Z: -37}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFakeDriver_Kick(t *testing.T) {
	sess := dialFake(t, options{
		spawnDelay: 10 * time.Millisecond,
		kickAfter:  50 * time.Millisecond,
		kickReason: "flying is not enabled",
	})

	assert.Equal(t, agent.EventSpawned, nextEvent(t, sess).Type)

	ev := nextEvent(t, sess)
	assert.Equal(t, agent.EventKicked, ev.Type)
	assert.Equal(t, "flying is not enabled", ev.Reason)
	assert.False(t, sess.Connected())
}

func TestFakeDriver_Refuse(t *testing.T) {
	sess := dialFake(t, options{refuse: true})

	ev := nextEvent(t, sess)
	assert.Equal(t, agent.EventErrored, ev.Type)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "ECONNREFUSED mc.example.net:25565")
}
