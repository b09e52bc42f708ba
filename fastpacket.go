package n2k

import (
	"fmt"
	"sync"
	"time"
)

// fastPacketSequence tracks one in-progress Fast-Packet reassembly,
// keyed by (pgn, source, sequence id). Frame 0 carries the declared
// total length in its second byte; frames 1..N carry 7 payload bytes
// each at offset 6+(frameNr-1)*7.
type fastPacketSequence struct {
	header CanBusHeader

	firstFrameTime        time.Time
	lastReceivedFrameTime time.Time

	// sequence distinguishes concurrent sequences from the same
	// source+pgn; frames from the same source may arrive out of order
	// across sequences without this.
	sequence uint8
	length   uint8 // declared total payload length, from frame 0

	expectedFrames      uint8
	completeFramesMask  uint32
	receivedFramesMask  uint32 // each frame index is a single bit
	receivedFramesCount uint8

	data [FastRawPacketMaxSize]byte
}

func (m *fastPacketSequence) Reset() {
	*m = fastPacketSequence{}
}

// Append places frame's payload bytes into the sequence buffer and
// reports whether the sequence is now complete. A duplicate frame index
// or a sequence missing its leading frame is reported via ErrFastPacket.
func (m *fastPacketSequence) Append(frame RawFrame) (bool, error) {
	if frame.Length < 2 {
		return false, fmt.Errorf("%w: frame too short to carry fast-packet header", ErrFastPacket)
	}
	sequence := frame.Data[0] >> 5         // top 3 bits: sequence counter (0-7)
	frameNr := frame.Data[0] & 0b0001_1111 // bottom 5 bits: frame index within sequence
	frameMask := uint32(1) << frameNr

	if m.receivedFramesMask&frameMask != 0 {
		return false, fmt.Errorf("%w: duplicate frame index %d", ErrFastPacket, frameNr)
	}
	if m.receivedFramesMask == 0 {
		if frameNr != 0 {
			return false, fmt.Errorf("%w: sequence started without leading frame", ErrFastPacket)
		}
		m.header = frame.Header
		m.sequence = sequence
		m.firstFrameTime = frame.Time
	}
	m.receivedFramesMask |= frameMask
	m.receivedFramesCount++
	m.lastReceivedFrameTime = frame.Time

	if frameNr == 0 {
		m.length = frame.Data[1]

		frameCount := uint8(1)
		if m.length > 6 {
			frameCount += (m.length - 6 + 6) / 7
		}
		m.expectedFrames = frameCount
		m.completeFramesMask = ^(^uint32(0) << frameCount)

		copy(m.data[:6], frame.Data[2:8])
	} else {
		start := 6 + int(frameNr-1)*7
		end := start + int(frame.Length) - 1
		if end > len(m.data) {
			end = len(m.data)
		}
		copy(m.data[start:end], frame.Data[1:1+(end-start)])
	}

	return m.completeFramesMask == m.receivedFramesMask, nil
}

// To copies the completed payload into a RawMessage, preserving the
// leading frame's timestamp per spec §5 ordering guarantees.
func (m *fastPacketSequence) To(to *RawMessage) {
	to.Time = m.firstFrameTime
	to.Header = m.header
	if cap(to.Data) < int(m.length) {
		to.Data = make([]byte, m.length)
	} else {
		to.Data = to.Data[:m.length]
	}
	copy(to.Data, m.data[:m.length])
}

// isStale reports whether this sequence has been inactive past spec's
// 0.01 * expected_frames seconds expiry threshold.
func (m *fastPacketSequence) isStale(now time.Time) bool {
	if m.receivedFramesMask == 0 {
		return false
	}
	threshold := time.Duration(float64(m.expectedFrames) * 0.01 * float64(time.Second))
	if threshold < time.Millisecond {
		threshold = time.Millisecond
	}
	return now.Sub(m.lastReceivedFrameTime) > threshold
}

// FastPacketAssembler reassembles Fast-Packet multi-frame sequences into
// complete RawMessages, one handle per (pgn, source, sequence id).
type FastPacketAssembler struct {
	// pgns lists PGNs known (from the schema registry) to use Fast-Packet
	// framing, for PGNs whose range alone does not determine it.
	pgns []uint32

	mu         sync.Mutex
	inTransfer []*fastPacketSequence
	pool       sync.Pool

	now func() time.Time
}

// NewFastPacketAssembler creates an assembler that treats fpPGNs as
// Fast-Packet framed, in addition to any PGN that ClassifyPGN already
// places in a Fast-Packet transport range.
func NewFastPacketAssembler(fpPGNs []uint32) *FastPacketAssembler {
	a := &FastPacketAssembler{
		pgns:       append([]uint32{}, fpPGNs...),
		inTransfer: make([]*fastPacketSequence, 0, 10),
		now:        time.Now,
	}
	a.pool.New = func() any { return &fastPacketSequence{} }
	return a
}

func (a *FastPacketAssembler) isFastPacketPGN(pgn uint32) bool {
	if (RawMessage{Header: CanBusHeader{PGN: pgn}}).IsFastPacket() {
		return true
	}
	for _, p := range a.pgns {
		if p == pgn {
			return true
		}
	}
	return false
}

// Assemble feeds a single CAN frame into reassembly and reports whether
// to now holds a complete message. Single-frame (non Fast-Packet) PGNs
// complete immediately on their one and only frame.
func (a *FastPacketAssembler) Assemble(frame RawFrame, to *RawMessage) (bool, error) {
	if !a.isFastPacketPGN(frame.Header.PGN) {
		if cap(to.Data) < int(frame.Length) {
			to.Data = make([]byte, frame.Length)
		} else {
			to.Data = to.Data[:frame.Length]
		}
		copy(to.Data, frame.Data[:frame.Length])
		to.Time = frame.Time
		to.Header = frame.Header
		return true, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sequence := frame.Data[0] >> 5

	var fp *fastPacketSequence
	idx := -1
	for i, cand := range a.inTransfer {
		if cand.header.Source == frame.Header.Source && cand.header.PGN == frame.Header.PGN && cand.sequence == sequence {
			fp = cand
			idx = i
			break
		}
	}
	if fp == nil {
		fp = a.pool.Get().(*fastPacketSequence)
		fp.Reset()
		a.inTransfer = append(a.inTransfer, fp)
		idx = len(a.inTransfer) - 1
	}

	complete, err := fp.Append(frame)
	if err != nil {
		// discard the partial sequence on protocol error, per spec §7.
		a.removeAt(idx)
		return false, err
	}
	if complete {
		fp.To(to)
		a.removeAt(idx)
	}
	return complete, nil
}

func (a *FastPacketAssembler) removeAt(idx int) {
	fp := a.inTransfer[idx]
	a.inTransfer[idx] = a.inTransfer[len(a.inTransfer)-1]
	a.inTransfer = a.inTransfer[:len(a.inTransfer)-1]
	a.pool.Put(fp)
}

// Sweep discards reassembly handles that have gone stale (inactive past
// 0.01 * expected_frames seconds), per spec §4.3's periodic GC sweep. It
// is meant to be called from a ticker owned by the CAN interface.
func (a *FastPacketAssembler) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	live := a.inTransfer[:0]
	for _, fp := range a.inTransfer {
		if fp.isStale(now) {
			a.pool.Put(fp)
			continue
		}
		live = append(live, fp)
	}
	a.inTransfer = live
}

// SplitFastPacket fragments payload (6..223 bytes) into Fast-Packet
// frames using sequence id seq (0-7); the sender holds that id until all
// frames are enqueued (spec §4.3 "Sending split").
func SplitFastPacket(header CanBusHeader, payload []byte, seq uint8, ts time.Time) ([]RawFrame, error) {
	if len(payload) > FastRawPacketMaxSize {
		return nil, fmt.Errorf("n2k: fast-packet payload %d exceeds max %d", len(payload), FastRawPacketMaxSize)
	}
	seq &= 0x7

	frameCount := 1
	if len(payload) > 6 {
		frameCount += (len(payload) - 6 + 6) / 7
	}
	frames := make([]RawFrame, 0, frameCount)

	f := RawFrame{Time: ts, Header: header}
	f.Data[0] = seq << 5
	f.Data[1] = uint8(len(payload))
	n := copy(f.Data[2:8], payload)
	f.Length = uint8(2 + n)
	frames = append(frames, f)

	remaining := payload[n:]
	for i := uint8(1); len(remaining) > 0; i++ {
		f := RawFrame{Time: ts, Header: header}
		f.Data[0] = seq<<5 | i
		k := copy(f.Data[1:8], remaining)
		f.Length = uint8(1 + k)
		frames = append(frames, f)
		remaining = remaining[k:]
	}
	return frames, nil
}
