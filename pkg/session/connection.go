package session

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wraith-network/wraith/internal/worker"
	"github.com/wraith-network/wraith/pkg/aead"
	"github.com/wraith-network/wraith/pkg/congestion"
	"github.com/wraith-network/wraith/pkg/frame"
	"github.com/wraith-network/wraith/pkg/handshake"
	"github.com/wraith-network/wraith/pkg/obfuscate"
	"github.com/wraith-network/wraith/pkg/ratchet"
	"github.com/wraith-network/wraith/pkg/transport"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// defaultInitialCredit seeds DefaultConfig's InitialStreamCredit (and, times
// four, its InitialConnCredit) before any MAX_STREAM_DATA/MAX_DATA
// negotiation; callers such as pkg/node pass their own values through Config.
const defaultInitialCredit = 256 * 1024

// Tuning constants for the connection's maintenance loop (§4.4, §4.5, §4.6).
const (
	maintTickInterval     = time.Second
	rekeyReplyTimeout     = 10 * time.Second
	rekeyGraceRTTFallback = 200 * time.Millisecond
	pmtuProbeTimeout      = 2 * time.Second
	keepaliveInterval     = 15 * time.Second
	pendingAckTTL         = 30 * time.Second

	// DrainTimeout bounds how long a graceful Close waits in the Draining
	// state after sending CLOSE before forcing the connection shut, per §4.5.
	DrainTimeout = 3 * time.Second
)

// Connection is one WRAITH peer-to-peer session: the state machine, the
// stream table, flow control, congestion control, migration, and PMTU
// discovery bound together over a single ratchet and transport. Structured
// after the teacher's client2/connection.go: one goroutine reading
// datagrams off the wire and dispatching by frame type, one goroutine
// pacing and flushing queued outbound frames, a third running periodic
// maintenance (rekey, PMTU probing, keepalive), joined by worker.Worker
// instances so Close cleanly drains all three before returning.
type Connection struct {
	reader worker.Worker
	writer worker.Worker
	maint  worker.Worker

	mu      sync.Mutex
	sm      *stateMachine
	streams map[uint16]*Stream
	nextID  uint16 // next stream id this side will allocate

	connID    [aead.ConnIDSize]byte
	salt      [16]byte
	ratchet   *ratchet.Ratchet
	replay    *aead.ReplayWindow
	bbr       *congestion.Controller
	flow      *ConnFlowControl
	pmtu      *PMTUDiscovery
	mig       *Migration
	peerAddr  net.Addr
	onMigrate func(net.Addr)

	tr      transport.Transport
	out     chan outboundFrame
	metrics *Metrics
	log     *log.Logger

	// obfMu guards obfRNG: the writer, reader, and maintenance loops all
	// draw padding/jitter samples and math/rand.Rand is not safe for
	// concurrent use without external synchronization.
	obfMu   sync.Mutex
	obfRNG  *mrand.Rand
	padding obfuscate.PaddingStrategy
	jitter  obfuscate.Jitter
	cover   *obfuscate.CoverGenerator

	recentSent atomic.Uint64
	rateBits   atomic.Uint64
	lastSendAt atomic.Int64

	rekeyInFlight    bool
	rekeyInitiatedAt time.Time

	pmtuProbeActive bool
	pmtuProbeSize   int
	pmtuProbeAt     time.Time

	ackMu       sync.Mutex
	pendingSent map[uint64]pendingSend
}

// pendingSend records when an outbound packet keyed by its AEAD counter was
// sent and how large it was, so a later ACK referencing that counter can
// feed an RTT/delivered-bytes sample into BBR.
type pendingSend struct {
	at   time.Time
	size int
}

type outboundFrame struct {
	f *frame.Frame
}

// Config parameterizes a Connection's mutable knobs, sourced from
// pkg/config at construction time.
type Config struct {
	InitialStreamCredit uint64
	InitialConnCredit   uint64
	MaxStreamsPerConn   int

	// Padding, Jitter, and Cover select the traffic-analysis-resistance
	// behaviour applied to every outbound packet (§4.6), resolved from
	// pkg/config's padding_mode/timing_mode/cover_rate options.
	Padding obfuscate.PaddingStrategy
	Jitter  obfuscate.Jitter
	Cover   obfuscate.CoverConfig
}

// DefaultConfig returns the connection-local defaults used when Config is
// not otherwise supplied: no padding, no jitter, no cover traffic, matching
// an unconfigured node that hasn't opted into §4.6's obfuscation layer.
func DefaultConfig() Config {
	return Config{
		InitialStreamCredit: defaultInitialCredit,
		InitialConnCredit:   defaultInitialCredit * 4,
		MaxStreamsPerConn:   256,
		Padding:             obfuscate.PaddingNone,
		Jitter:              obfuscate.Jitter{Kind: obfuscate.JitterNone},
		Cover:               obfuscate.CoverConfig{Mode: obfuscate.CoverRateOff},
	}
}

func newObfRNG() *mrand.Rand {
	var seed [8]byte
	_, _ = cryptorand.Read(seed[:])
	return mrand.New(mrand.NewSource(int64(binary.BigEndian.Uint64(seed[:]))))
}

// NewConnection wraps a completed handshake Output and transport into an
// Established connection ready to open streams and exchange data.
func NewConnection(out handshake.Output, initiator bool, dhPrivate [32]byte, tr transport.Transport, peerAddr net.Addr, byteBudget uint64, cfg Config, metrics *Metrics, logger *log.Logger) *Connection {
	if logger == nil {
		logger = log.Default()
	}
	rk := ratchet.New(out.SendKey, out.RecvKey, dhPrivate, [32]byte{}, byteBudget)
	c := &Connection{
		sm:          newStateMachine(),
		streams:     make(map[uint16]*Stream),
		connID:      out.ConnectionID,
		salt:        out.SessionSalt,
		ratchet:     rk,
		replay:      &aead.ReplayWindow{},
		bbr:         congestion.New(PMTUFloor),
		flow:        NewConnFlowControl(cfg.InitialConnCredit),
		pmtu:        NewPMTUDiscovery(),
		mig:         NewMigration(),
		peerAddr:    peerAddr,
		tr:          tr,
		out:         make(chan outboundFrame, 256),
		metrics:     metrics,
		log:         logger.WithPrefix("session"),
		obfRNG:      newObfRNG(),
		padding:     cfg.Padding,
		jitter:      cfg.Jitter,
		pendingSent: make(map[uint64]pendingSend),
	}
	if initiator {
		c.nextID = MinApplicationStreamID
	} else {
		c.nextID = MinApplicationStreamID + 1
	}

	coverCfg := cfg.Cover
	coverRNG := newObfRNG()
	coverCfg.RealTrafficFn = c.currentSendRate
	coverCfg.EmitPad = func() { c.emitCoverPad(coverRNG) }
	c.cover = obfuscate.NewCoverGenerator(coverCfg, logger)

	_ = c.sm.transition(StateHandshaking)
	_ = c.sm.transition(StateEstablished)
	return c
}

// SetOnMigrate registers a callback invoked after a candidate path
// validates and peerAddr moves to it, letting the owning node re-route its
// shared transport's demultiplexing table to the new source address.
func (c *Connection) SetOnMigrate(fn func(net.Addr)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMigrate = fn
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.State()
}

// OpenStream allocates a new application stream using this side's
// even/odd id convention and returns it in the Idle state.
func (c *Connection) OpenStream(cfg Config) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sm.State() != StateEstablished {
		return nil, wraitherr.New(wraitherr.ConnectionClosed, "cannot open stream outside Established")
	}
	if len(c.streams) >= cfg.MaxStreamsPerConn {
		return nil, wraitherr.New(wraitherr.FlowControlViolation, "max streams per connection exceeded")
	}
	id := c.nextID
	c.nextID += 2
	s := NewStream(id, cfg.InitialStreamCredit)
	s.Open()
	c.streams[id] = s
	return s, nil
}

// Stream looks up an existing stream by id.
func (c *Connection) Stream(id uint16) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

// AcceptRemoteStream creates (if absent) the local bookkeeping for a
// stream the peer just opened.
func (c *Connection) AcceptRemoteStream(id uint16, cfg Config) *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[id]; ok {
		return s
	}
	s := NewStream(id, cfg.InitialStreamCredit)
	s.Open()
	c.streams[id] = s
	return s
}

// Start launches the reader, writer, and maintenance loops, plus the cover
// traffic generator if configured. The caller supplies the decode-and-
// dispatch callback because application frame interpretation depends on
// the owning node's stream/transfer wiring.
func (c *Connection) Start(onFrame func(f frame.Frame)) {
	c.reader.Go(func() { c.readLoop(onFrame) })
	c.writer.Go(c.writeLoop)
	c.maint.Go(c.maintLoop)
	c.cover.Start()
}

func (c *Connection) readLoop(onFrame func(f frame.Frame)) {
	for {
		select {
		case <-c.reader.HaltCh():
			return
		default:
		}
		dg, err := c.tr.Recv()
		if err != nil {
			if wraitherr.Is(err, wraitherr.ConnectionClosed) {
				return
			}
			c.log.Debug("transport recv error", "err", err)
			continue
		}
		c.handleDatagram(dg, onFrame)
	}
}

func (c *Connection) handleDatagram(dg transport.Datagram, onFrame func(f frame.Frame)) {
	c.mu.Lock()
	counter := c.ratchet.Recv.Counter() + 1
	key, err := c.ratchet.RecvKeyForCounter(counter)
	c.mu.Unlock()
	if err != nil {
		if c.metrics != nil {
			c.metrics.ReplayDropped.Inc()
		}
		return
	}
	ek := aead.ExpectedKey{Key: key, Commitment: aead.Commitment(key)}
	plain, err := aead.Open(dg.Payload, c.connID, ek, c.salt, counter, c.replay)
	if err != nil {
		if c.metrics != nil {
			c.metrics.AeadFailures.Inc()
		}
		if wraitherr.Is(err, wraitherr.KeyCommitmentFailed) {
			go func() { _ = c.Abort() }()
		}
		return
	}
	f, err := frame.Decode(plain, 0)
	if err != nil {
		return
	}
	if c.metrics != nil {
		c.metrics.FramesRecv.Inc()
		c.metrics.BytesRecv.Add(float64(len(dg.Payload)))
	}

	c.checkMigration(dg)

	if f.Type == frame.TypeData || f.Type == frame.TypeControl {
		c.sendAck(dg.Addr, counter)
	}

	if c.handleControlFrame(dg, f) {
		return
	}
	onFrame(f)
}

// checkMigration compares the datagram's source address against the
// connection's current peer address (§4.5): an address that is already
// known or previously validated is accepted (migrating peerAddr and
// resetting BBR on first use of a validated path); an unknown candidate is
// challenged before being trusted.
func (c *Connection) checkMigration(dg transport.Datagram) {
	c.mu.Lock()
	known := c.peerAddr != nil && c.peerAddr.String() == dg.Addr.String()
	c.mu.Unlock()
	if known {
		return
	}
	if c.mig.Validated(dg.Addr) {
		c.migrateTo(dg.Addr)
		return
	}
	token, err := c.mig.BeginProbe(dg.Addr)
	if err != nil {
		return
	}
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypePathChallenge, Payload: append([]byte(nil), token[:]...)}, dg.Addr)
}

func (c *Connection) migrateTo(addr net.Addr) {
	c.mu.Lock()
	c.peerAddr = addr
	hook := c.onMigrate
	c.mu.Unlock()
	c.bbr.ResetForMigration(time.Now())
	if hook != nil {
		hook(addr)
	}
}

// handleControlFrame fully services a control-plane frame type, reporting
// whether it did so (in which case the caller must not also hand f to the
// stream/transfer dispatch callback).
func (c *Connection) handleControlFrame(dg transport.Datagram, f frame.Frame) bool {
	switch f.Type {
	case frame.TypeAck:
		c.handleAck(f)
		return true
	case frame.TypeRekey:
		c.handleRekey(dg.Addr, f)
		return true
	case frame.TypePing:
		_ = c.sealAndSend(&frame.Frame{Type: frame.TypePong}, dg.Addr)
		return true
	case frame.TypePong:
		c.handlePong(f)
		return true
	case frame.TypeClose:
		go func() { _ = c.Abort() }()
		return true
	case frame.TypePad:
		c.handlePad(dg, f)
		return true
	case frame.TypePathChallenge:
		c.handlePathChallenge(dg, f)
		return true
	case frame.TypePathResponse:
		c.handlePathResponse(dg, f)
		return true
	case frame.TypeMaxData:
		c.handleMaxData(f)
		return true
	case frame.TypeMaxStreamData:
		c.handleMaxStreamData(f)
		return true
	default:
		return false
	}
}

func (c *Connection) handleAck(f frame.Frame) {
	if len(f.Payload) < 8 {
		return
	}
	counter := binary.BigEndian.Uint64(f.Payload)
	c.ackMu.Lock()
	ps, ok := c.pendingSent[counter]
	if ok {
		delete(c.pendingSent, counter)
	}
	c.ackMu.Unlock()
	if !ok {
		return
	}
	c.OnRTTSample(ps.size, time.Since(ps.at))
}

func (c *Connection) sendAck(addr net.Addr, ackedCounter uint64) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, ackedCounter)
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypeAck, Payload: payload}, addr)
}

// handleRekey drives the two-message DH ratchet exchange (§4.4). An
// unflagged REKEY carries the sender's pre-rotation DH public key and asks
// the receiver to rotate and reply with its own pre-rotation public key
// (FlagRekeyReply set); a flagged REKEY completes the initiator's half of
// the same rotation. Each side rotates exactly once per exchange, and the
// flag keeps a reply from ever being mistaken for a fresh initiation.
func (c *Connection) handleRekey(addr net.Addr, f frame.Frame) {
	if len(f.Payload) < 32 {
		return
	}
	var peerPub [32]byte
	copy(peerPub[:], f.Payload)

	if f.Flags&frame.FlagRekeyReply != 0 {
		c.mu.Lock()
		if !c.rekeyInFlight {
			c.mu.Unlock()
			return
		}
		rtt := time.Since(c.rekeyInitiatedAt)
		_, err := c.ratchet.DHRatchetStep(peerPub, rtt)
		c.rekeyInFlight = false
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("dh ratchet step failed", "err", err)
			go func() { _ = c.Abort() }()
			return
		}
		if c.metrics != nil {
			c.metrics.RekeyCount.Inc()
		}
		return
	}

	c.mu.Lock()
	oldPub := c.ratchet.SelfPublic()
	rtt := c.bbr.RTprop()
	if rtt <= 0 || rtt >= time.Hour {
		rtt = rekeyGraceRTTFallback
	}
	_, err := c.ratchet.DHRatchetStep(peerPub, rtt)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("dh ratchet step failed", "err", err)
		go func() { _ = c.Abort() }()
		return
	}
	if c.metrics != nil {
		c.metrics.RekeyCount.Inc()
	}
	reply := &frame.Frame{Type: frame.TypeRekey, Flags: frame.FlagRekeyReply, Payload: append([]byte(nil), oldPub[:]...)}
	_ = c.sealAndSend(reply, addr)
}

func (c *Connection) handlePad(dg transport.Datagram, f frame.Frame) {
	echo := make([]byte, 4)
	binary.BigEndian.PutUint32(echo, uint32(len(dg.Payload)))
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypePong, Payload: echo}, dg.Addr)
}

func (c *Connection) handlePong(f frame.Frame) {
	if len(f.Payload) < 4 {
		return // plain keepalive pong, nothing further to correlate
	}
	echoed := binary.BigEndian.Uint32(f.Payload)
	c.mu.Lock()
	match := c.pmtuProbeActive && uint32(c.pmtuProbeSize) == echoed
	if match {
		c.pmtuProbeActive = false
	}
	c.mu.Unlock()
	if match {
		c.pmtu.OnProbeResult(int(echoed), true)
	}
}

func (c *Connection) handlePathChallenge(dg transport.Datagram, f frame.Frame) {
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypePathResponse, Payload: append([]byte(nil), f.Payload...)}, dg.Addr)
}

func (c *Connection) handlePathResponse(dg transport.Datagram, f frame.Frame) {
	if len(f.Payload) != ChallengeSize {
		return
	}
	var token [ChallengeSize]byte
	copy(token[:], f.Payload)
	if !c.mig.OnPathResponse(dg.Addr, token) {
		return
	}
	c.migrateTo(dg.Addr)
}

func (c *Connection) handleMaxData(f frame.Frame) {
	if len(f.Payload) < 8 {
		return
	}
	c.flow.Grant(binary.BigEndian.Uint64(f.Payload))
}

func (c *Connection) handleMaxStreamData(f frame.Frame) {
	if len(f.Payload) < 8 {
		return
	}
	if s, ok := c.Stream(f.StreamID); ok {
		s.GrantSendCredit(binary.BigEndian.Uint64(f.Payload))
	}
}

// Enqueue queues f for transmission on the writer loop's pacing schedule.
func (c *Connection) Enqueue(f *frame.Frame) error {
	select {
	case c.out <- outboundFrame{f: f}:
		return nil
	default:
		return wraitherr.New(wraitherr.FlowControlViolation, "outbound queue full")
	}
}

func (c *Connection) writeLoop() {
	buf := make([]byte, frame.HeaderSize+frame.MaxPayloadLen)
	for {
		select {
		case <-c.writer.HaltCh():
			return
		case item := <-c.out:
			c.pace(len(item.f.Payload))
			c.sendOne(item.f, buf)
		}
	}
}

// pace sleeps for a timing-jitter sample (§4.6), floored against BBR's
// current pacing interval so jitter can only add delay, never cause the
// connection to exceed its estimated bottleneck bandwidth.
func (c *Connection) pace(payloadLen int) {
	rate := c.bbr.PacingRate()
	if c.jitter.Kind == obfuscate.JitterNone && rate <= 0 {
		return
	}
	var pacingFloor time.Duration
	if rate > 0 {
		size := payloadLen + frame.HeaderSize
		pacingFloor = time.Duration(float64(size) / rate * float64(time.Second))
	}
	delay := obfuscate.FloorByPacing(c.jitterDelay(), pacingFloor)
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (c *Connection) sendOne(f *frame.Frame, buf []byte) {
	addr := c.currentPeerAddr()
	n, err := frame.Encode(f, buf)
	if err != nil {
		c.log.Warn("drop unencodable outbound frame", "err", err)
		return
	}
	padTo := c.targetSize(n)
	if err := c.sealAndTransmit(buf[:n], padTo, addr); err != nil {
		c.log.Debug("send failed", "err", err)
	}
}

// sealAndSend encodes, pads, seals, and transmits a control-plane frame
// built outside the writer loop's pacing schedule (rekey, keepalive, path
// validation, credit updates, ACKs). It still applies the configured
// padding strategy so these frames carry the same size-obfuscation
// guarantees as ordinary data traffic.
func (c *Connection) sealAndSend(f *frame.Frame, addr net.Addr) error {
	buf := make([]byte, frame.HeaderSize+len(f.Payload))
	n, err := frame.Encode(f, buf)
	if err != nil {
		c.log.Warn("drop unencodable outbound frame", "err", err)
		return err
	}
	padTo := c.targetSize(n)
	return c.sealAndTransmit(buf[:n], padTo, addr)
}

func (c *Connection) sealAndTransmit(encoded []byte, padTo int, addr net.Addr) error {
	c.mu.Lock()
	key, counter := c.ratchet.NextSendKey(len(encoded))
	c.mu.Unlock()
	packet, err := aead.Seal(c.connID, key, c.salt, counter, encoded, padTo)
	if err != nil {
		c.log.Warn("seal failed", "err", err)
		return err
	}
	if err := c.tr.Send(addr, packet); err != nil {
		c.log.Debug("transport send error", "err", err)
		return err
	}
	c.notePending(counter, len(packet))
	c.recentSent.Add(uint64(len(packet)))
	c.lastSendAt.Store(time.Now().UnixNano())
	if c.metrics != nil {
		c.metrics.FramesSent.Inc()
		c.metrics.BytesSent.Add(float64(len(packet)))
	}
	return nil
}

func (c *Connection) notePending(counter uint64, size int) {
	c.ackMu.Lock()
	c.pendingSent[counter] = pendingSend{at: time.Now(), size: size}
	c.ackMu.Unlock()
}

func (c *Connection) purgeStalePending(now time.Time) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	for k, v := range c.pendingSent {
		if now.Sub(v.at) > pendingAckTTL {
			delete(c.pendingSent, k)
		}
	}
}

func (c *Connection) currentPeerAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

func (c *Connection) targetSize(payloadLen int) int {
	c.obfMu.Lock()
	defer c.obfMu.Unlock()
	return obfuscate.TargetSize(c.padding, payloadLen, c.obfRNG, 0)
}

func (c *Connection) jitterDelay() time.Duration {
	c.obfMu.Lock()
	defer c.obfMu.Unlock()
	return c.jitter.Delay(c.obfRNG)
}

func (c *Connection) currentSendRate() float64 {
	return math.Float64frombits(c.rateBits.Load())
}

// emitCoverPad sends one PAD frame sized by the same padding strategy as
// real traffic; it is sent directly when the cover generator fires, outside
// the writer loop's pacing and jitter, using a dedicated rng so the cover generator's goroutine never
// touches the writer/reader loops' shared obfRNG concurrently.
func (c *Connection) emitCoverPad(rng *mrand.Rand) {
	addr := c.currentPeerAddr()
	buf := make([]byte, frame.HeaderSize)
	n, err := frame.Encode(&frame.Frame{Type: frame.TypePad}, buf)
	if err != nil {
		return
	}
	padTo := obfuscate.TargetSize(c.padding, n, rng, 0)
	_ = c.sealAndTransmit(buf[:n], padTo, addr)
}

// ReserveConnSend claims n bytes of connection-wide send credit (§4.5),
// mirroring Stream.ReserveSend at the connection scope.
func (c *Connection) ReserveConnSend(n int) bool {
	return c.flow.Reserve(n)
}

// ConsumeConnBytes records n bytes delivered to the application across all
// streams and, once the hysteresis threshold is crossed, sends a MAX_DATA
// update advertising the new connection-wide receive limit.
func (c *Connection) ConsumeConnBytes(n uint64) {
	newLimit, ok := c.flow.Consume(n)
	if !ok {
		return
	}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, newLimit)
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypeMaxData, Payload: payload}, c.currentPeerAddr())
}

// ConsumeStreamBytes records n bytes delivered to the application on
// streamID and, once crossed, sends a MAX_STREAM_DATA update for it.
func (c *Connection) ConsumeStreamBytes(streamID uint16, n uint64) {
	s, ok := c.Stream(streamID)
	if !ok {
		return
	}
	newLimit, ok := s.ShouldSendCreditUpdate(n)
	if !ok {
		return
	}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, newLimit)
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypeMaxStreamData, StreamID: streamID, Payload: payload}, c.currentPeerAddr())
}

// maintLoop runs the periodic upkeep §4.4/§4.5/§4.6 require outside the
// request/response flow of the read and write loops: expiring the
// rekey grace chain, triggering the DH ratchet, driving PMTU discovery,
// sending keepalives, and bounding the pending-ACK table.
func (c *Connection) maintLoop() {
	ticker := time.NewTicker(maintTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.maint.HaltCh():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			c.ratchet.ExpireOldRecvChain()
			c.mu.Unlock()
			c.snapshotSendRate()
			c.purgeStalePending(now)
			c.maybeInitiateRekey()
			c.maybeRunPMTU(now)
			c.maybeKeepalive(now)
		}
	}
}

func (c *Connection) snapshotSendRate() {
	sent := c.recentSent.Swap(0)
	rate := float64(sent) / maintTickInterval.Seconds()
	c.rateBits.Store(math.Float64bits(rate))
}

func (c *Connection) maybeInitiateRekey() {
	c.mu.Lock()
	if c.rekeyInFlight && time.Since(c.rekeyInitiatedAt) < rekeyReplyTimeout {
		c.mu.Unlock()
		return
	}
	if !c.ratchet.ShouldRekey() {
		c.mu.Unlock()
		return
	}
	selfPub := c.ratchet.SelfPublic()
	c.rekeyInFlight = true
	c.rekeyInitiatedAt = time.Now()
	addr := c.peerAddr
	c.mu.Unlock()

	f := &frame.Frame{Type: frame.TypeRekey, Payload: append([]byte(nil), selfPub[:]...)}
	if err := c.sealAndSend(f, addr); err != nil {
		c.log.Debug("rekey initiation send failed", "err", err)
	}
}

func (c *Connection) maybeRunPMTU(now time.Time) {
	c.mu.Lock()
	if c.pmtuProbeActive {
		if now.Sub(c.pmtuProbeAt) > pmtuProbeTimeout {
			size := c.pmtuProbeSize
			c.pmtuProbeActive = false
			c.mu.Unlock()
			c.pmtu.OnProbeResult(size, false)
		} else {
			c.mu.Unlock()
		}
		return
	}
	if c.pmtu.ShouldStartRound(now) {
		c.pmtu.StartRound(now)
	}
	size, ok := c.pmtu.NextProbeSize()
	if !ok {
		c.mu.Unlock()
		return
	}
	c.pmtuProbeActive = true
	c.pmtuProbeSize = size
	c.pmtuProbeAt = now
	addr := c.peerAddr
	c.mu.Unlock()

	if err := c.sendPadProbe(addr, size); err != nil {
		c.log.Debug("pmtu probe send failed", "err", err)
	}
}

// sendPadProbe sends a PAD frame sealed to exactly size bytes, bypassing
// the configured padding strategy: PMTU discovery needs a specific probe
// size, not an obfuscation-chosen one.
func (c *Connection) sendPadProbe(addr net.Addr, size int) error {
	padTo := size - aead.ConnIDSize - aead.TagSize
	if padTo < frame.HeaderSize {
		padTo = frame.HeaderSize
	}
	buf := make([]byte, frame.HeaderSize)
	n, err := frame.Encode(&frame.Frame{Type: frame.TypePad}, buf)
	if err != nil {
		return err
	}
	return c.sealAndTransmit(buf[:n], padTo, addr)
}

func (c *Connection) maybeKeepalive(now time.Time) {
	last := time.Unix(0, c.lastSendAt.Load())
	if now.Sub(last) < keepaliveInterval {
		return
	}
	_ = c.sealAndSend(&frame.Frame{Type: frame.TypePing}, c.currentPeerAddr())
}

// Close transitions the connection through Draining to Closed, sending a
// CLOSE frame and waiting DrainTimeout to let any in-flight frames settle,
// per §4.5. Use Abort to force-close immediately instead.
func (c *Connection) Close() error {
	c.mu.Lock()
	cur := c.sm.State()
	if cur == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if cur == StateEstablished {
		_ = c.sm.transition(StateDraining)
	}
	addr := c.peerAddr
	c.mu.Unlock()

	_ = c.sealAndSend(&frame.Frame{Type: frame.TypeClose}, addr)
	time.Sleep(DrainTimeout)

	return c.finalizeClose()
}

// Abort force-closes the connection immediately: no Draining state, no
// CLOSE frame. Used when the peer has already announced its own CLOSE, or
// when a security fault (e.g. key-commitment failure) demands the
// connection stop accepting or producing traffic without delay.
func (c *Connection) Abort() error {
	c.mu.Lock()
	if c.sm.State() == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.finalizeClose()
}

func (c *Connection) finalizeClose() error {
	c.mu.Lock()
	_ = c.sm.transition(StateClosed)
	c.mu.Unlock()

	c.reader.Halt()
	c.writer.Halt()
	c.maint.Halt()
	c.cover.Halt()
	// Close the transport before waiting on the reader: readLoop blocks
	// inside tr.Recv() between packets and only notices Halt at the top of
	// its loop, so closing unblocks it immediately instead of waiting for
	// the next (possibly nonexistent) datagram.
	closeErr := c.tr.Close()
	c.reader.Wait()
	c.writer.Wait()
	c.maint.Wait()
	c.cover.Wait()
	c.ratchet.Destroy()
	return closeErr
}

// Drain transitions an Established connection to Draining, refusing new
// streams while allowing in-flight ones to finish.
func (c *Connection) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.transition(StateDraining)
}

// OnRTTSample feeds one round-trip measurement into the congestion
// controller and metrics histogram.
func (c *Connection) OnRTTSample(deliveredBytes int, rtt time.Duration) {
	c.bbr.OnACK(deliveredBytes, rtt, time.Now())
	if c.metrics != nil {
		c.metrics.RTTSeconds.Observe(rtt.Seconds())
		c.metrics.PacingRateBytes.Set(c.bbr.PacingRate())
	}
}
