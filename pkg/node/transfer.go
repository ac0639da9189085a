package node

import (
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/wraith-network/wraith/pkg/frame"
	"github.com/wraith-network/wraith/pkg/identity"
	"github.com/wraith-network/wraith/pkg/transfer"
	"github.com/wraith-network/wraith/pkg/wraitherr"
)

// maxInFlightChunks bounds how many chunk requests an inbound transfer
// keeps outstanding across all its sources at once (§4.7's multi-source
// coordinator assigns one more as each completes or fails).
const maxInFlightChunks = 8

// controlKind tags the variant of a CONTROL-frame payload carrying
// transfer protocol messages, since §4.1's frame header has no room for a
// nested type beyond the coarse TypeControl tag.
type controlKind uint8

const (
	controlAnnounce controlKind = iota
	controlChunkRequest
	controlChunkData
)

type controlEnvelope struct {
	Kind controlKind
	Body []byte
}

type announcePayload struct {
	TransferID [transfer.HashSize]byte
	FileSize   uint64
	ChunkSize  uint32
	ChunkCount uint32
}

type chunkRequestPayload struct {
	TransferID [transfer.HashSize]byte
	Index      uint32
}

// chunkPartSize bounds how much chunk data rides in a single CONTROL
// frame. A transfer chunk (commonly DefaultChunkSize, 256KiB) is far
// larger than frame.MaxPayloadLen, so handleChunkRequest splits it into
// chunkPartSize-sized parts, each its own CBOR-wrapped control frame; the
// receiver reassembles by (TransferID, Index) before verifying the
// completed chunk against its Merkle path.
const chunkPartSize = 4096

// chunkDataPayload carries one part of one chunk's bytes. The Merkle
// sibling path is only meaningful once every part of a chunk has arrived,
// but is attached to every part (it is small relative to chunkPartSize)
// so reassembly does not depend on control-frame delivery order.
type chunkDataPayload struct {
	TransferID [transfer.HashSize]byte
	Index      uint32
	PartIndex  uint32
	PartCount  uint32
	Path       []transfer.PathNode
	Data       []byte
}

// chunkAssembly buffers a chunk's parts until all have arrived.
type chunkAssembly struct {
	parts [][]byte
	got   int
	path  []transfer.PathNode
}

// transferStreamID is the reserved control stream carrying announce/fetch
// messages, distinct from application data streams (§4.7's "auxiliary
// CONTROL frame"). It is a TypeControl-only channel, so it may safely sit
// inside frame's reserved control-stream range.
const transferStreamID = 1

func sendControl(sh *SessionHandle, kind controlKind, body interface{}) error {
	b, err := cbor.Marshal(body)
	if err != nil {
		return wraitherr.Wrap(wraitherr.FrameMalformed, "marshal control body", err)
	}
	env, err := cbor.Marshal(&controlEnvelope{Kind: kind, Body: b})
	if err != nil {
		return wraitherr.Wrap(wraitherr.FrameMalformed, "marshal control envelope", err)
	}
	return sh.conn.Enqueue(&frame.Frame{Type: frame.TypeControl, StreamID: transferStreamID, Payload: env})
}

// outboundTransfer is a file this node is serving to one or more peers.
type outboundTransfer struct {
	manifest transfer.Manifest
	tree     *transfer.Tree
	path     string
}

// TransferHandle tracks one outbound or inbound file transfer, per §6's
// transfer.progress().
type TransferHandle struct {
	manifest transfer.Manifest
	progress *transfer.ProgressTracker
	done     chan struct{}
	err      error

	// The following fields are populated only for inbound transfers, once
	// handleAnnounce has learned the manifest.
	mu          sync.Mutex
	outPath     string
	resumePath  string
	tmpFile     *os.File
	bitmap      transfer.Bitmap
	assembling  map[uint32]*chunkAssembly
	closed      bool

	// coordinator, peers, requestedAt, and assignedPeer implement §4.7's
	// multi-source chunk assignment: every peer that has announced this
	// transfer is a candidate source, and the coordinator picks which one
	// serves each not-yet-requested chunk.
	coordinator  *transfer.Coordinator
	peers        map[transfer.PeerID]*SessionHandle
	requestedAt  map[uint32]time.Time
	assignedPeer map[uint32]transfer.PeerID
	inFlight     int
}

// finish records the terminal result of an inbound transfer exactly once
// and unblocks any Wait caller.
func (t *TransferHandle) finish(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// TransferProgress is the snapshot returned by transfer.progress().
type TransferProgress = transfer.ProgressStats

// SendFile chunks and announces path to peer over session, per
// node.send_file(peer_id, path). The file remains open (by path, reopened
// per chunk request) for the lifetime of the outbound transfer.
func (n *Node) SendFile(peer identity.NodeID, path string) (*TransferHandle, error) {
	n.mu.Lock()
	sh, ok := n.sessions[peer]
	n.mu.Unlock()
	if !ok {
		return nil, wraitherr.New(wraitherr.ConnectionClosed, "no established session with peer")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "open file", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "stat file", err)
	}
	manifest, tree, err := transfer.BuildManifest(f, uint64(st.Size()), n.cfg.ChunkSize)
	f.Close()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if n.outbound == nil {
		n.outbound = make(map[[transfer.HashSize]byte]*outboundTransfer)
	}
	n.outbound[manifest.TransferID] = &outboundTransfer{manifest: manifest, tree: tree, path: path}
	n.mu.Unlock()

	if err := sendControl(sh, controlAnnounce, &announcePayload{
		TransferID: manifest.TransferID,
		FileSize:   manifest.FileSize,
		ChunkSize:  manifest.ChunkSize,
		ChunkCount: manifest.ChunkCount,
	}); err != nil {
		return nil, err
	}

	return &TransferHandle{
		manifest: manifest,
		progress: transfer.NewProgressTracker(manifest.FileSize),
		done:     make(chan struct{}),
	}, nil
}

// ReceiveFile registers interest in a previously (or soon to be)
// announced transferID, writing verified chunks to outputPath once the
// transfer completes, per node.receive_file(transfer_id, output_path).
func (n *Node) ReceiveFile(transferID [transfer.HashSize]byte, outputPath string) (*TransferHandle, error) {
	th := &TransferHandle{
		progress:   transfer.NewProgressTracker(0),
		done:       make(chan struct{}),
		outPath:    outputPath,
		resumePath: outputPath + ".resume",
	}
	n.mu.Lock()
	if n.pendingReceives == nil {
		n.pendingReceives = make(map[[transfer.HashSize]byte]*TransferHandle)
	}
	n.pendingReceives[transferID] = th
	n.mu.Unlock()
	return th, nil
}

func (n *Node) dispatchTransferControl(sh *SessionHandle, payload []byte) {
	var env controlEnvelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return
	}
	switch env.Kind {
	case controlAnnounce:
		n.handleAnnounce(sh, env.Body)
	case controlChunkRequest:
		n.handleChunkRequest(sh, env.Body)
	case controlChunkData:
		var cd chunkDataPayload
		if err := cbor.Unmarshal(env.Body, &cd); err != nil {
			return
		}
		n.handleChunkDataPart(cd)
	}
}

func (n *Node) handleAnnounce(sh *SessionHandle, body []byte) {
	var ann announcePayload
	if err := cbor.Unmarshal(body, &ann); err != nil {
		return
	}
	n.mu.Lock()
	th, wanted := n.pendingReceives[ann.TransferID]
	n.mu.Unlock()
	if !wanted {
		return
	}
	manifest := transfer.Manifest{TransferID: ann.TransferID, FileSize: ann.FileSize, ChunkSize: ann.ChunkSize, ChunkCount: ann.ChunkCount}
	peerID := transfer.PeerID(sh.peer.String())

	th.mu.Lock()
	firstAnnounce := th.coordinator == nil
	if firstAnnounce {
		th.manifest = manifest
		th.progress = transfer.NewProgressTracker(manifest.FileSize)
		th.coordinator = transfer.NewCoordinator(manifest, n.transferStrategy(), n.cfg.AdaptiveDegradationPct)
		th.peers = make(map[transfer.PeerID]*SessionHandle)
	}
	th.peers[peerID] = sh
	th.mu.Unlock()

	if store := n.reputationStore(); store != nil {
		store.SeedCoordinator(th.coordinator, []transfer.PeerID{peerID})
	} else {
		th.coordinator.AddPeer(peerID)
	}

	if !firstAnnounce {
		n.fillTransferWindow(th)
		return
	}

	// First peer to announce this transfer: stand up the temp file and
	// resume bookkeeping, reusing a prior partial download when its resume
	// state matches this manifest exactly (§4.7).
	tmpPath := th.outPath + ".part"
	resumePath := th.outPath + ".resume"
	bitmap := transfer.NewBitmap(manifest.ChunkCount)
	openFlags := os.O_CREATE | os.O_RDWR | os.O_TRUNC
	if rs, err := transfer.LoadResumeState(resumePath); err == nil &&
		rs.RootHash == manifest.TransferID && rs.ChunkSize == manifest.ChunkSize && rs.FileSize == manifest.FileSize {
		bitmap = rs.Bitmap
		openFlags = os.O_CREATE | os.O_RDWR
	}

	f, err := os.OpenFile(tmpPath, openFlags, 0o600)
	if err != nil {
		th.finish(wraitherr.Wrap(wraitherr.FrameMalformed, "create transfer temp file", err))
		return
	}
	if err := f.Truncate(int64(manifest.FileSize)); err != nil {
		f.Close()
		th.finish(wraitherr.Wrap(wraitherr.FrameMalformed, "size transfer temp file", err))
		return
	}

	th.mu.Lock()
	th.tmpFile = f
	th.bitmap = bitmap
	th.resumePath = resumePath
	th.mu.Unlock()

	var resumedBytes uint64
	for i := uint32(0); i < manifest.ChunkCount; i++ {
		if bitmap.IsSet(i) {
			th.coordinator.MarkCompleted(i)
			resumedBytes += uint64(transfer.ChunkLen(i, manifest))
		}
	}
	if resumedBytes > 0 {
		th.progress.RecordBytes(resumedBytes)
	}

	n.fillTransferWindow(th)
}

// fillTransferWindow asks the coordinator for as many chunk assignments as
// fit within maxInFlightChunks and requests each from its assigned peer.
// Called after every announce and after every chunk completion or failure
// so the in-flight window stays full until the transfer is done.
func (n *Node) fillTransferWindow(th *TransferHandle) {
	for {
		th.mu.Lock()
		if th.coordinator == nil || th.inFlight >= maxInFlightChunks {
			th.mu.Unlock()
			return
		}
		index, peerID, ok := th.coordinator.NextAssignment()
		if !ok {
			th.mu.Unlock()
			return
		}
		sh, known := th.peers[peerID]
		if !known {
			th.mu.Unlock()
			th.coordinator.MarkFailed(index)
			continue
		}
		if th.requestedAt == nil {
			th.requestedAt = make(map[uint32]time.Time)
			th.assignedPeer = make(map[uint32]transfer.PeerID)
		}
		th.requestedAt[index] = time.Now()
		th.assignedPeer[index] = peerID
		th.inFlight++
		transferID := th.manifest.TransferID
		th.mu.Unlock()

		_ = sendControl(sh, controlChunkRequest, &chunkRequestPayload{TransferID: transferID, Index: index})
	}
}

func (n *Node) handleChunkRequest(sh *SessionHandle, body []byte) {
	var req chunkRequestPayload
	if err := cbor.Unmarshal(body, &req); err != nil {
		return
	}
	n.mu.Lock()
	ot, ok := n.outbound[req.TransferID]
	n.mu.Unlock()
	if !ok {
		return
	}
	f, err := os.Open(ot.path)
	if err != nil {
		return
	}
	defer f.Close()

	off := transfer.ChunkOffset(req.Index, ot.manifest.ChunkSize)
	ln := transfer.ChunkLen(req.Index, ot.manifest)
	buf := make([]byte, ln)
	if _, err := f.ReadAt(buf, int64(off)); err != nil && ln > 0 {
		return
	}

	path := ot.tree.Path(int(req.Index))
	partCount := (len(buf) + chunkPartSize - 1) / chunkPartSize
	if partCount == 0 {
		partCount = 1 // a zero-length chunk (empty file) is still one part
	}
	for i := 0; i < partCount; i++ {
		start := i * chunkPartSize
		end := start + chunkPartSize
		if end > len(buf) {
			end = len(buf)
		}
		_ = sendControl(sh, controlChunkData, &chunkDataPayload{
			TransferID: req.TransferID,
			Index:      req.Index,
			PartIndex:  uint32(i),
			PartCount:  uint32(partCount),
			Path:       path,
			Data:       buf[start:end],
		})
	}
}

// handleChunkDataPart buffers one part of a chunk, and once every part has
// arrived, verifies the reassembled chunk against its Merkle path before
// writing it to the transfer's temp file.
func (n *Node) handleChunkDataPart(cd chunkDataPayload) {
	n.mu.Lock()
	th, ok := n.pendingReceives[cd.TransferID]
	n.mu.Unlock()
	if !ok {
		return
	}

	th.mu.Lock()
	if th.assembling == nil {
		th.assembling = make(map[uint32]*chunkAssembly)
	}
	asm, ok := th.assembling[cd.Index]
	if !ok {
		asm = &chunkAssembly{parts: make([][]byte, cd.PartCount)}
		th.assembling[cd.Index] = asm
	}
	if asm.parts[cd.PartIndex] == nil {
		asm.parts[cd.PartIndex] = append([]byte(nil), cd.Data...)
		asm.got++
	}
	if len(cd.Path) > 0 {
		asm.path = cd.Path
	}
	complete := asm.got == len(asm.parts)
	var chunk []byte
	var path []transfer.PathNode
	if complete {
		delete(th.assembling, cd.Index)
		path = asm.path
		total := 0
		for _, p := range asm.parts {
			total += len(p)
		}
		chunk = make([]byte, 0, total)
		for _, p := range asm.parts {
			chunk = append(chunk, p...)
		}
	}
	th.mu.Unlock()
	if !complete {
		return
	}

	n.handleChunkData(cd.TransferID, cd.Index, path, chunk)
}

func (n *Node) handleChunkData(transferID [transfer.HashSize]byte, index uint32, path []transfer.PathNode, chunk []byte) {
	n.mu.Lock()
	th, ok := n.pendingReceives[transferID]
	n.mu.Unlock()
	if !ok {
		return
	}

	th.mu.Lock()
	requestedAt, hadRequest := th.requestedAt[index]
	peerID, hadPeer := th.assignedPeer[index]
	if hadRequest {
		delete(th.requestedAt, index)
		delete(th.assignedPeer, index)
		th.inFlight--
	}
	th.mu.Unlock()

	leaf := transfer.ChunkHash(chunk)
	if !transfer.VerifyPath(leaf, path, transferID) {
		if hadPeer && th.coordinator != nil {
			th.coordinator.Observe(peerID, 0, 0, 1)
			th.coordinator.MarkFailed(index)
		}
		n.fillTransferWindow(th)
		return
	}

	th.mu.Lock()
	if th.tmpFile == nil || th.bitmap == nil {
		th.mu.Unlock()
		return
	}
	off := transfer.ChunkOffset(index, th.manifest.ChunkSize)
	_, writeErr := th.tmpFile.WriteAt(chunk, int64(off))
	if writeErr == nil {
		th.bitmap.Set(index)
	}
	bitmap := th.bitmap
	resumePath := th.resumePath
	manifest := th.manifest
	complete := writeErr == nil && th.bitmap.Complete(th.manifest.ChunkCount)
	th.mu.Unlock()
	if writeErr != nil {
		th.finish(wraitherr.Wrap(wraitherr.FrameMalformed, "write received chunk", writeErr))
		return
	}

	if hadPeer && th.coordinator != nil {
		elapsed := time.Since(requestedAt).Seconds()
		bps := float64(len(chunk))
		if elapsed > 0 {
			bps = float64(len(chunk)) / elapsed
		}
		th.coordinator.Observe(peerID, bps, elapsed*1000, 0)
		th.coordinator.MarkCompleted(index)
		if store := n.reputationStore(); store != nil {
			_ = store.Save(peerID, bps)
		}
	}

	_ = transfer.SaveResumeState(resumePath, &transfer.ResumeState{
		Bitmap:    bitmap,
		RootHash:  manifest.TransferID,
		ChunkSize: manifest.ChunkSize,
		FileSize:  manifest.FileSize,
	})

	th.progress.RecordBytes(uint64(len(chunk)))

	if complete {
		n.finalizeReceive(transferID, th)
		return
	}
	n.fillTransferWindow(th)
}

// finalizeReceive closes the transfer's temp file, moves it to outPath with
// a single os.Rename (no backup of an existing file at outPath is taken),
// then removes the resume file, so the output file only appears at outPath
// once every chunk has been verified.
func (n *Node) finalizeReceive(transferID [transfer.HashSize]byte, th *TransferHandle) {
	th.mu.Lock()
	f := th.tmpFile
	tmpPath := th.outPath + ".part"
	outPath := th.outPath
	th.mu.Unlock()

	if err := f.Close(); err != nil {
		th.finish(wraitherr.Wrap(wraitherr.FrameMalformed, "close transfer temp file", err))
		return
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		th.finish(wraitherr.Wrap(wraitherr.FrameMalformed, "install received file", err))
		return
	}
	_ = os.Remove(th.resumePath)

	n.mu.Lock()
	delete(n.pendingReceives, transferID)
	n.mu.Unlock()

	th.finish(nil)
}

// Progress returns the transfer's live stats, per transfer.progress().
func (t *TransferHandle) Progress() TransferProgress {
	return t.progress.Snapshot()
}

// Wait blocks until the transfer completes or fails.
func (t *TransferHandle) Wait() error {
	<-t.done
	return t.err
}
