package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayerCooperativeStopDoesNotMarkLost(t *testing.T) {
	publishing, lost := NewURLSet(), NewURLSet()
	engine := newControllableEngine()
	r := newRelayerWithEngine("rtsp://pull/vs01", "rtsp://republish/vs01", publishing, lost, engine, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-engine.started:
	case <-time.After(time.Second):
		t.Fatal("engine never started")
	}
	require.True(t, publishing.Contains("rtsp://republish/vs01"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relayer did not stop")
	}

	require.False(t, publishing.Contains("rtsp://republish/vs01"))
	require.False(t, lost.Contains("rtsp://republish/vs01"))
}

func TestRelayerBrokenPullMarksLost(t *testing.T) {
	publishing, lost := NewURLSet(), NewURLSet()
	engine := newControllableEngine()
	r := newRelayerWithEngine("rtsp://pull/vs01", "rtsp://republish/vs01", publishing, lost, engine, testLogger())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-engine.started:
	case <-time.After(time.Second):
		t.Fatal("engine never started")
	}
	close(engine.broken)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("relayer did not exit")
	}

	require.False(t, publishing.Contains("rtsp://republish/vs01"))
	require.True(t, lost.Contains("rtsp://republish/vs01"))
}

func TestRelayerForceUnblockMarksLost(t *testing.T) {
	publishing, lost := NewURLSet(), NewURLSet()
	engine := newControllableEngine()
	r := newRelayerWithEngine("rtsp://pull/vs01", "rtsp://republish/vs01", publishing, lost, engine, testLogger())

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-engine.started:
	case <-time.After(time.Second):
		t.Fatal("engine never started")
	}
	r.ForceUnblock()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("relayer did not exit after force-unblock")
	}
	require.True(t, lost.Contains("rtsp://republish/vs01"))
}

func TestRelayerRejectsConcurrentRun(t *testing.T) {
	publishing, lost := NewURLSet(), NewURLSet()
	engine := newControllableEngine()
	r := newRelayerWithEngine("rtsp://pull/vs01", "rtsp://republish/vs01", publishing, lost, engine, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-engine.started:
	case <-time.After(time.Second):
		t.Fatal("engine never started")
	}
	require.Error(t, r.Run(context.Background()))
}
