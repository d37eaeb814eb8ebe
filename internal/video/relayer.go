package video

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/meshctl/errs"
)

// Engine is the opaque pull/republish task a Relayer drives. The real
// implementation shells out to ffmpeg, mirroring the teacher's
// StreamProcess wrapper; tests substitute a fake.
//
// Run blocks until the pull ends or ctx is cancelled. heartbeat must be
// called periodically to signal liveness. ctx cancellation is a
// cooperative, non-abnormal stop (e.g. an explicit "stop" command) and Run
// must return nil. quitBlock is polled separately: once true, Run must
// abort the pull and return a non-nil error, since a force-unblock only
// ever happens because the pull stalled past its deadline.
type Engine interface {
	Run(ctx context.Context, pullURL, republishURL string, heartbeat func(), quitBlock func() bool) error
}

// ffmpegEngine relays by shelling out to ffmpeg, the same external-process
// pattern the teacher's StreamProcess uses for its capture pipeline. ffmpeg
// has no in-process interrupt callback reachable from Go, so quitBlock is
// observed by polling and killing the process on trip.
type ffmpegEngine struct {
	pollEvery time.Duration
}

func newFfmpegEngine() *ffmpegEngine {
	return &ffmpegEngine{pollEvery: 200 * time.Millisecond}
}

func (e *ffmpegEngine) Run(ctx context.Context, pullURL, republishURL string, heartbeat func(), quitBlock func() bool) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "warning",
		"-i", pullURL,
		"-c", "copy",
		"-f", "rtsp", republishURL,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("video: starting relay ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if ctx.Err() != nil {
				// CommandContext killed the process because ctx was cancelled.
				return nil
			}
			return err
		case <-ctx.Done():
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			<-done
			return nil
		case <-ticker.C:
			heartbeat()
			if quitBlock() {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
				<-done
				return errs.ErrRelayerStallTimeout
			}
		}
	}
}

// Relayer owns one capturer's pull/republish task (spec.md §4.13): the pull
// URL, the republish URL, a heartbeat clock, a force-unblock flag the
// sweeper trips on stall, and a run-count guard against double-starts.
type Relayer struct {
	ID           string
	PullURL      string
	RepublishURL string

	publishing *URLSet
	lost       *URLSet
	engine     Engine
	log        logrus.FieldLogger

	runCount  atomic.Int32
	quit      atomic.Bool
	heartbeat atomic.Int64 // unix nanos of last liveness signal
}

// NewRelayer builds a Relayer that will pull from pullURL and republish to
// republishURL, tracked in publishing/lost.
func NewRelayer(pullURL, republishURL string, publishing, lost *URLSet, log logrus.FieldLogger) *Relayer {
	return newRelayerWithEngine(pullURL, republishURL, publishing, lost, newFfmpegEngine(), log)
}

func newRelayerWithEngine(pullURL, republishURL string, publishing, lost *URLSet, engine Engine, log logrus.FieldLogger) *Relayer {
	return &Relayer{
		ID:           uuid.NewString(),
		PullURL:      pullURL,
		RepublishURL: republishURL,
		publishing:   publishing,
		lost:         lost,
		engine:       engine,
		log:          log,
	}
}

// ResetHeartbeat marks the relayer as alive right now.
func (r *Relayer) ResetHeartbeat() {
	r.heartbeat.Store(time.Now().UnixNano())
}

// HeartbeatAge reports how long it has been since the last liveness signal.
func (r *Relayer) HeartbeatAge() time.Duration {
	last := r.heartbeat.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// ForceUnblock trips the flag the sweeper uses to abort a stalled pull; the
// engine's exit path treats this as abnormal and marks the relayer's URL
// lost. It does not itself wait for the relayer to exit.
func (r *Relayer) ForceUnblock() {
	r.quit.Store(true)
}

// Run executes the relayer's lifetime: enters PublishingList before the
// first frame, leaves it on any exit, and on an abnormal exit (the pull
// breaking rather than a requested stop) adds RepublishURL to LostList.
// Only one Run may be in flight per Relayer.
func (r *Relayer) Run(ctx context.Context) error {
	if !r.runCount.CompareAndSwap(0, 1) {
		return fmt.Errorf("video: relayer %s already running", r.ID)
	}
	defer r.runCount.Store(0)

	r.log.WithField("pull", r.PullURL).WithField("republish", r.RepublishURL).Info("video: relayer starting")
	r.ResetHeartbeat()
	r.publishing.Add(r.RepublishURL)

	err := r.engine.Run(ctx, r.PullURL, r.RepublishURL, r.ResetHeartbeat, r.quit.Load)

	r.publishing.Remove(r.RepublishURL)
	if err != nil {
		r.log.WithError(err).Warn("video: relayer pull broke, marking lost")
		r.lost.Add(r.RepublishURL)
	}
	return err
}
