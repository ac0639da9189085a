// Package node assembles the WRAITH wire-level components into the public
// API described in §6: Node, SessionHandle, StreamHandle, and
// TransferHandle. It is the composition root — every other package in
// this module is a library with no knowledge of the others' existence;
// Node is where identity, handshake, ratchet, session, transfer,
// transport, wire, and config meet.
package node

import (
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wraith-network/wraith/internal/worker"
	"github.com/wraith-network/wraith/pkg/config"
	"github.com/wraith-network/wraith/pkg/frame"
	"github.com/wraith-network/wraith/pkg/handshake"
	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/session"
	"github.com/wraith-network/wraith/pkg/transfer"
	"github.com/wraith-network/wraith/pkg/transport"
	"github.com/wraith-network/wraith/pkg/wire"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// Node is one WRAITH endpoint: a long-lived identity bound to a transport,
// capable of establishing sessions with peers and moving files over them.
type Node struct {
	worker.Worker

	cfg      config.Config
	id       *identity.Identity
	tr       transport.Transport
	wrap     wire.Wrapper
	disc     Discovery
	metrics  *session.Metrics
	log      *log.Logger

	mu       sync.Mutex
	sessions map[identity.NodeID]*SessionHandle

	// handshakeInbox receives datagrams the accept loop could not match to
	// an established connection, for pendingConn.Recv to consume.
	handshakeInbox map[string]chan transport.Datagram

	// connInbox receives datagrams for an established session, keyed by
	// the peer's address, for that session's demuxTransport to consume.
	// Every Node datagram shares one underlying transport.Transport, so
	// the accept loop is the single reader demultiplexing by source
	// address to whichever Connection owns that peer.
	connInbox map[string]chan transport.Datagram

	outbound        map[[32]byte]*outboundTransfer
	pendingReceives map[[32]byte]*TransferHandle

	// reputation persists peer throughput observations across restarts
	// (§4.7) so a multi-source coordinator seeded on a new transfer starts
	// from what past transfers learned about each peer, rather than cold.
	repOnce    sync.Once
	reputation *transfer.ReputationStore
}

// reputationStore opens (once) the on-disk peer reputation database
// alongside the node's identity file. A failure to open is logged and
// treated as "no persisted reputation" rather than fatal: scoring still
// works within a single run via the coordinator's in-memory EWMA.
func (n *Node) reputationStore() *transfer.ReputationStore {
	n.repOnce.Do(func() {
		store, err := transfer.OpenReputationStore(n.cfg.IdentityPath + ".reputation")
		if err != nil {
			n.log.Warn("open reputation store failed", "err", err)
			return
		}
		n.reputation = store
	})
	return n.reputation
}

// transferStrategy resolves the configured multi-source strategy,
// falling back to round robin if the configuration is somehow invalid
// (Config.Validate should already have rejected that at load time).
func (n *Node) transferStrategy() transfer.Strategy {
	s, err := n.cfg.TransferStrategy()
	if err != nil {
		return transfer.StrategyRoundRobin
	}
	return s
}

// New constructs a Node from cfg and id, bound to tr for datagram I/O.
// disc resolves peer ids to candidate addresses.
func New(cfg config.Config, id *identity.Identity, tr transport.Transport, disc Discovery, wrap wire.Wrapper, logger *log.Logger) *Node {
	if wrap == nil {
		wrap = wire.Identity{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Node{
		cfg:            cfg,
		id:             id,
		tr:             tr,
		wrap:           wrap,
		disc:           disc,
		log:            logger.WithPrefix("node"),
		sessions:       make(map[identity.NodeID]*SessionHandle),
		handshakeInbox: make(map[string]chan transport.Datagram),
		connInbox:      make(map[string]chan transport.Datagram),
	}
}

// Start announces this node's reachability and launches the accept loop
// that demultiplexes inbound datagrams to pending handshakes or
// established connections.
func (n *Node) Start() error {
	if n.disc != nil {
		if err := n.disc.Announce(n.id.ID, n.tr.LocalAddr()); err != nil {
			return err
		}
	}
	n.Go(n.acceptLoop)
	return nil
}

// Stop halts the accept loop and closes every established session.
func (n *Node) Stop() error {
	n.Halt()
	n.Wait()
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.sessions {
		_ = s.conn.Close()
	}
	if n.reputation != nil {
		_ = n.reputation.Close()
	}
	return n.tr.Close()
}

func (n *Node) acceptLoop() {
	for {
		select {
		case <-n.HaltCh():
			return
		default:
		}
		dg, err := n.tr.Recv()
		if err != nil {
			return
		}
		unwrapped, err := n.wrap.Unwrap(dg.Payload)
		if err != nil {
			continue
		}
		dg.Payload = unwrapped
		key := dg.Addr.String()
		n.mu.Lock()
		ch, pending := n.handshakeInbox[key]
		n.mu.Unlock()
		if pending {
			select {
			case ch <- dg:
			default:
			}
			continue
		}
		n.mu.Lock()
		connCh, live := n.connInbox[key]
		n.mu.Unlock()
		if live {
			select {
			case connCh <- dg:
			default:
			}
			continue
		}
		// Not claimed by a pending handshake or a live session: an
		// unsolicited stray packet, dropped.
	}
}

// demuxTransport adapts the node's single shared transport into a
// per-peer transport.Transport for one Connection's lifetime: Send goes
// straight through, Recv reads from a dedicated channel the accept loop
// feeds by matching source address, and Close deregisters that channel.
type demuxTransport struct {
	n    *Node
	peer net.Addr
	key  string
	ch   chan transport.Datagram

	closeOnce sync.Once
	closed    chan struct{}
}

func (n *Node) newConnTransport(peer net.Addr) *demuxTransport {
	ch := make(chan transport.Datagram, 256)
	key := peer.String()
	n.mu.Lock()
	n.connInbox[key] = ch
	n.mu.Unlock()
	return &demuxTransport{n: n, peer: peer, key: key, ch: ch, closed: make(chan struct{})}
}

func (d *demuxTransport) Send(addr net.Addr, b []byte) error {
	wrapped, err := d.n.wrap.Wrap(b)
	if err != nil {
		return wraitherr.Wrap(wraitherr.PeerUnreachable, "wrap outbound datagram", err)
	}
	return d.n.tr.Send(addr, wrapped)
}

// Recv returns datagrams the accept loop has already unwrapped and routed
// here by source address; no further unwrap is needed.
func (d *demuxTransport) Recv() (transport.Datagram, error) {
	select {
	case dg := <-d.ch:
		return dg, nil
	case <-d.closed:
		return transport.Datagram{}, wraitherr.New(wraitherr.ConnectionClosed, "connection transport closed")
	}
}

func (d *demuxTransport) LocalAddr() net.Addr { return d.n.tr.LocalAddr() }

// Rekey re-registers this transport's inbound channel under newPeer,
// following a validated connection migration (§4.5): subsequent datagrams
// the accept loop sees from the new source address route to this same
// Connection instead of being dropped as unclaimed.
func (d *demuxTransport) Rekey(newPeer net.Addr) {
	newKey := newPeer.String()
	d.n.mu.Lock()
	delete(d.n.connInbox, d.key)
	d.n.connInbox[newKey] = d.ch
	d.n.mu.Unlock()
	d.key = newKey
	d.peer = newPeer
}

func (d *demuxTransport) Close() error {
	d.closeOnce.Do(func() {
		d.n.mu.Lock()
		delete(d.n.connInbox, d.key)
		d.n.mu.Unlock()
		close(d.closed)
	})
	return nil
}

// pendingMessageConn adapts the shared transport to handshake.MessageConn
// for the duration of one handshake with a specific peer address.
type pendingMessageConn struct {
	n    *Node
	addr net.Addr
	key  string
	ch   chan transport.Datagram
}

func (n *Node) newPendingConn(addr net.Addr) *pendingMessageConn {
	ch := make(chan transport.Datagram, 8)
	key := addr.String()
	n.mu.Lock()
	n.handshakeInbox[key] = ch
	n.mu.Unlock()
	return &pendingMessageConn{n: n, addr: addr, key: key, ch: ch}
}

func (p *pendingMessageConn) close() {
	p.n.mu.Lock()
	delete(p.n.handshakeInbox, p.key)
	p.n.mu.Unlock()
}

func (p *pendingMessageConn) Send(b []byte) error {
	wrapped, err := p.n.wrap.Wrap(b)
	if err != nil {
		return wraitherr.Wrap(wraitherr.PeerUnreachable, "wrap handshake message", err)
	}
	return p.n.tr.Send(p.addr, wrapped)
}

func (p *pendingMessageConn) Recv(deadline time.Time) ([]byte, error) {
	select {
	case dg := <-p.ch:
		return dg.Payload, nil
	case <-time.After(time.Until(deadline)):
		return nil, wraitherr.New(wraitherr.HandshakeTimeout, "handshake message deadline exceeded")
	}
}

// EstablishSession runs the handshake against peer and wraps the result in
// a running Connection, per §6's node.establish_session.
func (n *Node) EstablishSession(peer identity.NodeID) (*SessionHandle, error) {
	if n.disc == nil {
		return nil, wraitherr.New(wraitherr.PeerUnreachable, "no discovery configured")
	}
	addrs, err := n.disc.Resolve(peer)
	if err != nil || len(addrs) == 0 {
		return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "resolve peer", err)
	}

	var lastErr error
	for _, addr := range addrs {
		pc := n.newPendingConn(addr)
		out, hsErr := handshake.RunInitiator(pc, n.id)
		pc.close()
		if hsErr != nil {
			lastErr = hsErr
			continue
		}
		if out.PeerNodeID != peer {
			lastErr = wraitherr.New(wraitherr.HandshakeTimeout, "peer identity mismatch")
			continue
		}
		return n.finishSession(*out, true, addr)
	}
	return nil, wraitherr.Wrap(wraitherr.PeerUnreachable, "all candidate addresses failed", lastErr)
}

// AcceptSession completes the responder side of a handshake initiated by a
// peer against addr, used by servers driving their own listen loop.
func (n *Node) AcceptSession(addr net.Addr) (*SessionHandle, error) {
	pc := n.newPendingConn(addr)
	defer pc.close()
	out, err := handshake.RunResponder(pc, n.id)
	if err != nil {
		return nil, err
	}
	return n.finishSession(*out, false, addr)
}

func (n *Node) finishSession(out handshake.Output, initiator bool, addr net.Addr) (*SessionHandle, error) {
	padding, err := n.cfg.PaddingStrategy()
	if err != nil {
		return nil, err
	}
	jitter, err := n.cfg.Timing()
	if err != nil {
		return nil, err
	}
	sessCfg := session.Config{
		InitialStreamCredit: n.cfg.InitialFlowCredit,
		InitialConnCredit:   n.cfg.InitialFlowCredit * 4,
		MaxStreamsPerConn:   n.cfg.MaxStreamsPerConnection,
		Padding:             padding,
		Jitter:              jitter,
		Cover:               n.cfg.Cover(),
	}
	connTr := n.newConnTransport(addr)
	conn := session.NewConnection(out, initiator, n.id.DHPrivate(), connTr, addr, n.cfg.RatchetByteInterval, sessCfg, n.metrics, n.log)
	conn.SetOnMigrate(connTr.Rekey)
	sh := &SessionHandle{node: n, conn: conn, peer: out.PeerNodeID, cfg: sessCfg}
	conn.Start(sh.dispatch)

	n.mu.Lock()
	n.sessions[out.PeerNodeID] = sh
	n.mu.Unlock()
	return sh, nil
}

// SessionHandle is an established session with one peer, per §6.
type SessionHandle struct {
	node *Node
	conn *session.Connection
	peer identity.NodeID
	cfg  session.Config

	mu      sync.Mutex
	streams map[uint16]*StreamHandle
}

// OpenStream allocates a new application stream, per
// node.open_stream(session, initial_credit).
func (s *SessionHandle) OpenStream(initialCredit uint64) (*StreamHandle, error) {
	cfg := s.cfg
	if initialCredit > 0 {
		cfg.InitialStreamCredit = initialCredit
	}
	raw, err := s.conn.OpenStream(cfg)
	if err != nil {
		return nil, err
	}
	sh := &StreamHandle{session: s, stream: raw, inbox: make(chan []byte, 64)}
	s.mu.Lock()
	if s.streams == nil {
		s.streams = make(map[uint16]*StreamHandle)
	}
	s.streams[raw.ID] = sh
	s.mu.Unlock()
	return sh, nil
}

// Close drains and tears down the session.
func (s *SessionHandle) Close() error {
	return s.conn.Close()
}

// dispatch routes an inbound decrypted frame to its owning stream or
// control handler, matching the §3 dataflow note: "C5 dispatches to
// stream/control handler".
func (s *SessionHandle) dispatch(f frame.Frame) {
	switch {
	case f.Type == frame.TypeControl && f.StreamID == transferStreamID:
		s.node.dispatchTransferControl(s, f.Payload)
	case frame.IsStreamScoped(f.Type):
		s.dispatchStreamFrame(f)
	}
	// Every other frame type (REKEY, PING/PONG, CLOSE, PATH_CHALLENGE/
	// RESPONSE, MAX_DATA, MAX_STREAM_DATA, ACK) is fully consumed by the
	// connection's own read loop before dispatch ever sees it.
}

func (s *SessionHandle) dispatchStreamFrame(f frame.Frame) {
	s.mu.Lock()
	sh, ok := s.streams[f.StreamID]
	s.mu.Unlock()
	if !ok {
		raw := s.conn.AcceptRemoteStream(f.StreamID, s.cfg)
		sh = &StreamHandle{session: s, stream: raw, inbox: make(chan []byte, 64)}
		s.mu.Lock()
		if s.streams == nil {
			s.streams = make(map[uint16]*StreamHandle)
		}
		s.streams[f.StreamID] = sh
		s.mu.Unlock()
	}

	if f.Type != frame.TypeData {
		return
	}
	delivered, err := sh.stream.ReceiveData(f.Offset, f.Payload)
	if err != nil {
		return
	}
	if len(delivered) > 0 {
		select {
		case sh.inbox <- delivered:
		default:
		}
	}
	if f.Flags&frame.FlagEndOfStream != 0 {
		sh.stream.CloseRecv()
	}
}

// StreamHandle is one multiplexed byte stream within a session, per §6's
// stream.write/stream.read.
type StreamHandle struct {
	session *SessionHandle
	stream  *session.Stream
	inbox   chan []byte
	seq     uint32
}

// Write sends b as one or more DATA frames, chunked to the frame layer's
// MaxPayloadLen, reserving stream send credit for each piece.
func (h *StreamHandle) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := len(b)
		if n > frame.MaxPayloadLen {
			n = frame.MaxPayloadLen
		}
		offset, err := h.stream.ReserveSend(n)
		if err != nil {
			return written, err
		}
		if !h.session.conn.ReserveConnSend(n) {
			return written, wraitherr.New(wraitherr.FlowControlViolation, "insufficient connection send credit")
		}
		h.seq++
		f := &frame.Frame{
			Type:     frame.TypeData,
			StreamID: h.stream.ID,
			Sequence: h.seq,
			Offset:   offset,
			Payload:  b[:n],
		}
		if err := h.session.conn.Enqueue(f); err != nil {
			return written, err
		}
		written += n
		b = b[n:]
	}
	return written, nil
}

// Read copies the next available delivered bytes into buf, blocking until
// data arrives or the stream closes.
func (h *StreamHandle) Read(buf []byte) (int, error) {
	chunk, ok := <-h.inbox
	if !ok {
		return 0, wraitherr.New(wraitherr.ConnectionClosed, "stream closed")
	}
	n := copy(buf, chunk)
	h.session.conn.ConsumeStreamBytes(h.stream.ID, uint64(n))
	h.session.conn.ConsumeConnBytes(uint64(n))
	return n, nil
}

// Close ends this stream's send direction.
func (h *StreamHandle) Close() error {
	h.stream.CloseSend()
	f := &frame.Frame{Type: frame.TypeStreamClose, StreamID: h.stream.ID, Flags: frame.FlagEndOfStream}
	return h.session.conn.Enqueue(f)
}
