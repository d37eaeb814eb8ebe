package video

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/n0remac/uavmesh/internal/dsr"
	"github.com/n0remac/uavmesh/internal/supervise"
	"github.com/n0remac/uavmesh/internal/wire"
)

// DefaultRouteTimeout bounds how long packetReact waits for a DSR route.
const DefaultRouteTimeout = 10 * time.Second

// RetryInterval is how often the retry loop drains LostList.
const RetryInterval = 1 * time.Second

// SweepInterval is how often the sweeper ages every live relayer's heartbeat.
const SweepInterval = 3 * time.Second

// StallTimeout is RELAY_TIMEOUT_MS: a relayer whose heartbeat exceeds this
// is force-unblocked by the sweeper.
const StallTimeout = 15 * time.Second

// Controller is the video-transport control plane (spec.md §4.13): it
// reacts to VideoTransPackets, maintains one Relayer per active capturer,
// and recovers lost streams via the retry loop.
type Controller struct {
	myIP wire.IP

	// isSink selects the republish target for locally-spawned relayers:
	// a sink republishes toward sinkExternalIP (the external monitor/
	// controller address), every other node republishes to itself.
	isSink         bool
	sinkExternalIP wire.IP

	resolver     *dsr.Resolver
	conn         Transport
	routeTimeout time.Duration

	retryInterval time.Duration
	sweepInterval time.Duration
	stallTimeout  time.Duration

	publishing *URLSet
	lost       *URLSet

	mu        sync.Mutex
	relayers  map[wire.IP]*Relayer // keyed by capturerIP
	relayerCx map[wire.IP]context.CancelFunc

	newEngine func() Engine

	log logrus.FieldLogger
}

// NewController builds a Controller. sinkExternalIP is only consulted when
// isSink is true.
func NewController(myIP wire.IP, isSink bool, sinkExternalIP wire.IP, resolver *dsr.Resolver, conn Transport, log logrus.FieldLogger) *Controller {
	return &Controller{
		myIP:           myIP,
		isSink:         isSink,
		sinkExternalIP: sinkExternalIP,
		resolver:       resolver,
		conn:           conn,
		routeTimeout:   DefaultRouteTimeout,
		retryInterval:  RetryInterval,
		sweepInterval:  SweepInterval,
		stallTimeout:   StallTimeout,
		publishing:     NewURLSet(),
		lost:           NewURLSet(),
		relayers:       make(map[wire.IP]*Relayer),
		relayerCx:      make(map[wire.IP]context.CancelFunc),
		newEngine:      func() Engine { return newFfmpegEngine() },
		log:            log,
	}
}

// ActiveRelayerCount reports how many relayers are currently running,
// for the admin/metrics gauge.
func (c *Controller) ActiveRelayerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.relayers)
}

// LostCount reports how many streams are currently awaiting retry.
func (c *Controller) LostCount() int {
	return c.lost.Len()
}

// republishTarget is the IP a locally-spawned relayer republishes to: the
// sink's external monitor address if we are the sink, ourselves otherwise.
func (c *Controller) republishTarget() wire.IP {
	if c.isSink {
		return c.sinkExternalIP
	}
	return c.myIP
}

func (c *Controller) send(pkt *Packet) {
	buf, err := pkt.Serialize()
	if err != nil {
		c.log.WithError(err).Warn("video: dropping unencodable packet")
		return
	}
	if err := c.conn.SendTo(pkt.Dst, buf); err != nil {
		c.log.WithError(err).Warn("video: send failed")
	}
}

func (c *Controller) nextHop(dst wire.IP) (wire.IP, error) {
	return c.resolver.GetNextHop(dst, c.routeTimeout, dsr.SendReqAnyway)
}

// packetQueueDepth bounds the channel standing in for the original's
// PacketRecvQueue: enough to absorb packetReact blocking on one route
// lookup or PublishingList wait without the socket-drain goroutine
// stalling.
const packetQueueDepth = 64

// ReceiveLoop is the video-transport packet pipeline (spec.md §4.13),
// split into the same two tasks as the original: a dedicated socket-drain
// goroutine (recvQueueLoop, the original's PacketRecvQueue) and this
// goroutine's handler, which pops off the queue and reacts to one packet
// at a time. Reacting to a packet can itself block (waiting on
// PublishingList or a route lookup), which delays the *next* packet's
// reaction exactly as in the original design — the original's own TODO at
// its packetHandler notes this same handler-serialization limit — but
// decoupling the recv queue from the handler means that block never stalls
// the UDP read, so the kernel socket buffer can't overflow and drop
// inbound control packets while one reaction is in progress.
func (c *Controller) ReceiveLoop(stop *supervise.Stoppable) error {
	queue := make(chan *Packet, packetQueueDepth)
	drainErrCh := make(chan error, 1)
	go func() { drainErrCh <- c.recvQueueLoop(stop, queue) }()

	for {
		select {
		case <-stop.Done():
			return <-drainErrCh
		case pkt := <-queue:
			c.packetReact(pkt, stop)
		}
	}
}

// recvQueueLoop reads VideoTransPackets off conn and pushes each onto
// queue, as fast as the socket delivers them — the original's
// PacketRecvQueue::run (recvfrom, parse, push), kept separate from
// packetReact so the handler's own blocking never backs up the socket
// read.
func (c *Controller) recvQueueLoop(stop *supervise.Stoppable, queue chan<- *Packet) error {
	buf := make([]byte, Len)
	for !stop.StopRequested() {
		if err := c.conn.SetReadDeadline(3 * time.Second); err != nil {
			return err
		}
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if stop.StopRequested() {
				return nil
			}
			c.log.WithError(err).Warn("video: receive error")
			continue
		}
		pkt, perr := Parse(buf[:n])
		if perr != nil {
			c.log.WithError(perr).Warn("video: dropping unparseable packet")
			continue
		}
		select {
		case queue <- pkt:
		case <-stop.Done():
			return nil
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// packetReact is the command state machine (spec.md §4.13). A panic from
// an invalid resolver mode (spec.md §7's ErrParamInvalid) is recovered
// here so one malformed reaction can't kill ReceiveLoop.
func (c *Controller) packetReact(pkt *Packet, stop *supervise.Stoppable) {
	defer supervise.RecoverIteration(c.log, "video.packetReact")
	switch pkt.Cmd {
	case CmdStart:
		c.reactStart(pkt, stop)
	case CmdReady:
		c.reactReady(pkt, stop)
	case CmdStop:
		c.reactStop(pkt, stop)
	case CmdLost:
		// reserved: the original leaves this command unhandled too.
	default:
		c.log.WithField("cmd", byte(pkt.Cmd)).Warn("video: ignoring unknown command")
	}
}

func (c *Controller) reactStart(pkt *Packet, stop *supervise.Stoppable) {
	toSend := *pkt
	var hop wire.IP
	var err error
	if pkt.Capturer == c.myIP {
		hop, err = c.nextHop(pkt.Requester)
		toSend.Cmd = CmdReady
	} else {
		hop, err = c.nextHop(pkt.Capturer)
	}
	if err != nil {
		c.log.WithError(err).WithField("capturer", pkt.Capturer).Warn("video: start: no route, dropping")
		return
	}
	toSend.Src = c.myIP
	toSend.Dst = hop

	if toSend.Cmd == CmdReady {
		// The sink never receives a start for itself, so only a capturer
		// reaches this branch: wait for its own camera-publisher task.
		c.waitForPublishing(stop, GenerateURL(c.myIP, c.myIP))
	}
	c.send(&toSend)
}

func (c *Controller) reactReady(pkt *Packet, stop *supervise.Stoppable) {
	c.addRelayer(pkt.Capturer, pkt.Src)

	recoverURL := GenerateURL(pkt.Capturer, c.republishTarget())
	if c.lost.Contains(recoverURL) {
		c.lost.Remove(recoverURL)
		c.log.WithField("url", recoverURL).Info("video: lost stream recovered")
	}

	if pkt.Requester == c.myIP {
		return
	}
	hop, err := c.nextHop(pkt.Requester)
	if err != nil {
		c.log.WithError(err).WithField("requester", pkt.Requester).Warn("video: ready: no route, dropping")
		return
	}
	toSend := *pkt
	toSend.Src = c.myIP
	toSend.Dst = hop

	c.waitForPublishing(stop, GenerateURL(pkt.Capturer, c.myIP))
	c.send(&toSend)
}

func (c *Controller) reactStop(pkt *Packet, stop *supervise.Stoppable) {
	if pkt.Capturer == c.myIP {
		return
	}
	c.deleteRelayer(pkt.Capturer)

	hop, err := c.nextHop(pkt.Capturer)
	if err != nil {
		c.log.WithError(err).WithField("capturer", pkt.Capturer).Warn("video: stop: no route, dropping")
		return
	}
	if hop == pkt.Capturer {
		return
	}
	toSend := *pkt
	toSend.Src = c.myIP
	toSend.Dst = hop

	c.waitForNotPublishing(stop, GenerateURL(pkt.Capturer, c.myIP))
	c.send(&toSend)
}

func (c *Controller) waitForPublishing(stop *supervise.Stoppable, url string) {
	for !c.publishing.Contains(url) {
		select {
		case <-stop.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Controller) waitForNotPublishing(stop *supervise.Stoppable, url string) {
	for c.publishing.Contains(url) {
		select {
		case <-stop.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// addRelayer idempotently spawns a relayer pulling from pullIP and
// republishing toward republishTarget(), keyed by capturerIP.
func (c *Controller) addRelayer(capturerIP, pullIP wire.IP) {
	c.mu.Lock()
	if _, exists := c.relayers[capturerIP]; exists {
		c.mu.Unlock()
		c.log.WithField("capturer", capturerIP).Info("video: relayer already exists")
		return
	}

	pullURL := GenerateURL(capturerIP, pullIP)
	republishURL := GenerateURL(capturerIP, c.republishTarget())
	relayer := newRelayerWithEngine(pullURL, republishURL, c.publishing, c.lost, c.newEngine(), c.log)
	ctx, cancel := context.WithCancel(context.Background())
	c.relayers[capturerIP] = relayer
	c.relayerCx[capturerIP] = cancel
	c.mu.Unlock()

	go func() {
		if err := relayer.Run(ctx); err != nil {
			c.log.WithError(err).WithField("capturer", capturerIP).Warn("video: relayer exited abnormally")
		}
	}()
}

// deleteRelayer force-stops and forgets the relayer for capturerIP, if any.
func (c *Controller) deleteRelayer(capturerIP wire.IP) {
	c.mu.Lock()
	relayer, exists := c.relayers[capturerIP]
	cancel := c.relayerCx[capturerIP]
	delete(c.relayers, capturerIP)
	delete(c.relayerCx, capturerIP)
	c.mu.Unlock()

	if !exists {
		c.log.WithField("capturer", capturerIP).Info("video: no relayer to delete")
		return
	}
	// Cancellation alone: a requested stop is not a stall, so the
	// relayer's URL must not be added to LostList.
	cancel()
}

// RetryLoop drains LostList every RetryInterval, tearing down the matching
// relayer and, on the sink, re-issuing a start toward the capturer.
func (c *Controller) RetryLoop(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop.Done():
			return nil
		case <-ticker.C:
			c.retryTick()
		}
	}
}

func (c *Controller) retryTick() {
	if c.lost.Empty() {
		return
	}
	url := c.lost.Fetch()
	if url == "" {
		return
	}
	c.lost.Remove(url)

	capturerIP, _, err := SplitURL(url)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Warn("video: retry: malformed lost URL")
		return
	}
	c.deleteRelayer(capturerIP)

	if !c.isSink {
		return
	}
	c.requestStart(capturerIP)
}

func (c *Controller) requestStart(capturerIP wire.IP) {
	hop, err := c.nextHop(capturerIP)
	if err != nil {
		c.log.WithError(err).WithField("capturer", capturerIP).Warn("video: request start: no route, dropping")
		return
	}
	c.send(&Packet{Cmd: CmdStart, Src: c.myIP, Dst: hop, Requester: c.myIP, Capturer: capturerIP})
}

// RequestStart originates a start command toward capturerIP, as if this
// node were the viewer. Only meaningful on the sink; dispatching an SDN
// "nodeK" command into this call is this node's own addition — the SDN
// listener's job per spec.md §4.11 ends at decoding.
func (c *Controller) RequestStart(capturerIP wire.IP) {
	c.requestStart(capturerIP)
}

// RequestStop originates a stop command toward capturerIP.
func (c *Controller) RequestStop(capturerIP wire.IP) {
	hop, err := c.nextHop(capturerIP)
	if err != nil {
		c.log.WithError(err).WithField("capturer", capturerIP).Warn("video: request stop: no route, dropping")
		return
	}
	c.deleteRelayer(capturerIP)
	c.send(&Packet{Cmd: CmdStop, Src: c.myIP, Dst: hop, Requester: c.myIP, Capturer: capturerIP})
}

// SweepLoop ages every live relayer's heartbeat every SweepInterval and
// force-unblocks (and forgets) any relayer that has stalled past
// StallTimeout.
func (c *Controller) SweepLoop(stop *supervise.Stoppable) error {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-stop.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			c.sweepTick(elapsed)
		}
	}
}

func (c *Controller) sweepTick(elapsed time.Duration) {
	c.mu.Lock()
	stale := make([]wire.IP, 0)
	for capturerIP, relayer := range c.relayers {
		if relayer.HeartbeatAge() > c.stallTimeout {
			stale = append(stale, capturerIP)
		}
	}
	c.mu.Unlock()

	for _, capturerIP := range stale {
		c.log.WithField("capturer", capturerIP).Warn("video: relayer stalled, force-unblocking")
		c.mu.Lock()
		relayer := c.relayers[capturerIP]
		delete(c.relayers, capturerIP)
		delete(c.relayerCx, capturerIP)
		c.mu.Unlock()
		if relayer != nil {
			relayer.ForceUnblock()
		}
	}
}
