package n2k

import (
	"fmt"
	"sync"
	"time"
)

// ISO-TP / J1939-21 transport-protocol PGNs. TP.CM carries connection
// management (BAM announcement); TP.DT carries the 7-byte data packets
// that follow it.
const (
	PGNTransportProtocolConnectionManagement uint32 = 60416
	PGNTransportProtocolDataTransfer         uint32 = 60160
)

// TP.CM control bytes. This core only implements the BAM (broadcast)
// variant; RTS/CTS point-to-point transfer is rejected with
// ErrIsoTPUnsupported.
const (
	tpCMControlBAM uint8 = 32
	tpCMControlRTS uint8 = 16
	tpCMControlCTS uint8 = 17
)

// isoTPSequence tracks one in-progress BAM reassembly, keyed by source.
// TP.CM allocates it with the declared total size, frame count and
// embedded PGN; each TP.DT packet places its 7 payload bytes at
// (seqNum-1)*7.
type isoTPSequence struct {
	header CanBusHeader

	firstFrameTime        time.Time
	lastReceivedFrameTime time.Time

	totalSize    uint16
	numPackets   uint8
	embeddedPGN  uint32
	nextSeqNum   uint8
	receivedMask uint64 // one bit per TP.DT sequence number (1..numPackets)

	data [IsoTPMaxSize]byte
}

func (s *isoTPSequence) Reset() {
	*s = isoTPSequence{}
}

func (s *isoTPSequence) completeMask() uint64 {
	if s.numPackets >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << s.numPackets) - 1
}

// beginBAM starts a new BAM sequence from a TP.CM frame.
func (s *isoTPSequence) beginBAM(frame RawFrame) error {
	if frame.Length < 8 {
		return fmt.Errorf("%w: tp.cm frame too short", ErrIsoTP)
	}
	totalSize := uint16(frame.Data[1]) | uint16(frame.Data[2])<<8
	numPackets := frame.Data[3]
	embeddedPGN := uint32(frame.Data[5]) | uint32(frame.Data[6])<<8 | uint32(frame.Data[7])<<16

	if int(totalSize) > len(s.data) {
		return fmt.Errorf("%w: bam total size %d exceeds max %d", ErrIsoTP, totalSize, len(s.data))
	}

	s.header = frame.Header
	s.firstFrameTime = frame.Time
	s.lastReceivedFrameTime = frame.Time
	s.totalSize = totalSize
	s.numPackets = numPackets
	s.embeddedPGN = embeddedPGN
	s.nextSeqNum = 1
	s.receivedMask = 0
	return nil
}

// appendDataTransfer places one TP.DT packet's payload bytes and reports
// whether the sequence is now complete.
func (s *isoTPSequence) appendDataTransfer(frame RawFrame) (bool, error) {
	if s.totalSize == 0 {
		return false, fmt.Errorf("%w: tp.dt frame with no preceding tp.cm", ErrIsoTP)
	}
	if frame.Length < 1 {
		return false, fmt.Errorf("%w: tp.dt frame too short", ErrIsoTP)
	}
	seqNum := frame.Data[0]
	if seqNum == 0 || seqNum > s.numPackets {
		return false, fmt.Errorf("%w: tp.dt sequence number %d out of range", ErrIsoTP, seqNum)
	}
	bit := uint64(1) << (seqNum - 1)
	if s.receivedMask&bit != 0 {
		return false, fmt.Errorf("%w: duplicate tp.dt sequence number %d", ErrIsoTP, seqNum)
	}
	s.receivedMask |= bit
	s.lastReceivedFrameTime = frame.Time

	start := int(seqNum-1) * 7
	end := start + 7
	if end > int(s.totalSize) {
		end = int(s.totalSize)
	}
	if end > start {
		n := end - start
		if n > int(frame.Length)-1 {
			n = int(frame.Length) - 1
		}
		copy(s.data[start:start+n], frame.Data[1:1+n])
	}

	return s.receivedMask == s.completeMask(), nil
}

// To copies the completed payload into a RawMessage whose header carries
// the embedded PGN announced by TP.CM, per spec §4.4.
func (s *isoTPSequence) To(to *RawMessage) {
	to.Time = s.firstFrameTime
	to.Header = s.header
	to.Header.PGN = s.embeddedPGN
	if cap(to.Data) < int(s.totalSize) {
		to.Data = make([]byte, s.totalSize)
	} else {
		to.Data = to.Data[:s.totalSize]
	}
	copy(to.Data, s.data[:s.totalSize])
}

// isStale reports whether this sequence has been inactive past the
// protocol's 0.1 * numPackets seconds reassembly timeout (spec §4.4).
func (s *isoTPSequence) isStale(now time.Time) bool {
	if s.totalSize == 0 {
		return false
	}
	threshold := time.Duration(float64(s.numPackets) * 0.1 * float64(time.Second))
	if threshold < time.Millisecond {
		threshold = time.Millisecond
	}
	return now.Sub(s.lastReceivedFrameTime) > threshold
}

// IsoTPAssembler reassembles J1939-21 BAM transport-protocol sequences
// into complete RawMessages, one handle per source address (the protocol
// forbids a source from running two concurrent BAM transfers).
type IsoTPAssembler struct {
	mu         sync.Mutex
	inTransfer []*isoTPSequence
	pool       sync.Pool

	now func() time.Time
}

// NewIsoTPAssembler creates an assembler ready to accept TP.CM/TP.DT
// frames.
func NewIsoTPAssembler() *IsoTPAssembler {
	a := &IsoTPAssembler{
		inTransfer: make([]*isoTPSequence, 0, 4),
		now:        time.Now,
	}
	a.pool.New = func() any { return &isoTPSequence{} }
	return a
}

func (a *IsoTPAssembler) bySource(source uint8) (*isoTPSequence, int) {
	for i, cand := range a.inTransfer {
		if cand.header.Source == source {
			return cand, i
		}
	}
	return nil, -1
}

func (a *IsoTPAssembler) removeAt(idx int) {
	s := a.inTransfer[idx]
	a.inTransfer[idx] = a.inTransfer[len(a.inTransfer)-1]
	a.inTransfer = a.inTransfer[:len(a.inTransfer)-1]
	a.pool.Put(s)
}

// Assemble feeds a single TP.CM or TP.DT frame into reassembly and
// reports whether to now holds a complete message. Frames for any other
// PGN should not be passed here. A TP.CM control byte requesting
// RTS/CTS point-to-point transfer yields ErrIsoTPUnsupported.
func (a *IsoTPAssembler) Assemble(frame RawFrame, to *RawMessage) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch frame.Header.PGN {
	case PGNTransportProtocolConnectionManagement:
		if frame.Length < 1 {
			return false, fmt.Errorf("%w: tp.cm frame too short", ErrIsoTP)
		}
		control := frame.Data[0]
		if control == tpCMControlRTS || control == tpCMControlCTS {
			return false, ErrIsoTPUnsupported
		}
		if control != tpCMControlBAM {
			return false, fmt.Errorf("%w: unrecognized tp.cm control byte %d", ErrIsoTP, control)
		}

		s, _ := a.bySource(frame.Header.Source)
		if s == nil {
			s = a.pool.Get().(*isoTPSequence)
			a.inTransfer = append(a.inTransfer, s)
		}
		s.Reset()
		if err := s.beginBAM(frame); err != nil {
			a.removeBySource(frame.Header.Source)
			return false, err
		}
		return false, nil

	case PGNTransportProtocolDataTransfer:
		s, idx := a.bySource(frame.Header.Source)
		if s == nil {
			return false, fmt.Errorf("%w: tp.dt frame with no matching tp.cm", ErrIsoTP)
		}
		complete, err := s.appendDataTransfer(frame)
		if err != nil {
			a.removeAt(idx)
			return false, err
		}
		if complete {
			s.To(to)
			a.removeAt(idx)
		}
		return complete, nil

	default:
		return false, fmt.Errorf("%w: not a transport-protocol pgn %d", ErrIsoTP, frame.Header.PGN)
	}
}

func (a *IsoTPAssembler) removeBySource(source uint8) {
	if _, idx := a.bySource(source); idx >= 0 {
		a.removeAt(idx)
	}
}

// Sweep discards reassembly handles that have gone stale (inactive past
// 0.1 * numPackets seconds), mirroring FastPacketAssembler.Sweep. It is
// meant to be called from the same periodic ticker.
func (a *IsoTPAssembler) Sweep() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	live := a.inTransfer[:0]
	for _, s := range a.inTransfer {
		if s.isStale(now) {
			a.pool.Put(s)
			continue
		}
		live = append(live, s)
	}
	a.inTransfer = live
}

// SplitIsoTPBAM fragments payload (9..1785 bytes) for embeddedPGN into a
// TP.CM announcement frame followed by its TP.DT data frames, per spec
// §4.4's BAM send path.
func SplitIsoTPBAM(header CanBusHeader, embeddedPGN uint32, payload []byte, ts time.Time) ([]RawFrame, error) {
	if len(payload) > IsoTPMaxSize {
		return nil, fmt.Errorf("n2k: iso-tp bam payload %d exceeds max %d", len(payload), IsoTPMaxSize)
	}
	numPackets := (len(payload) + 6) / 7
	if numPackets == 0 || numPackets > 255 {
		return nil, fmt.Errorf("n2k: iso-tp bam payload requires %d packets, out of range", numPackets)
	}

	cmHeader := header
	cmHeader.PGN = PGNTransportProtocolConnectionManagement
	cm := RawFrame{Time: ts, Header: cmHeader, Length: 8}
	cm.Data[0] = tpCMControlBAM
	cm.Data[1] = uint8(len(payload))
	cm.Data[2] = uint8(len(payload) >> 8)
	cm.Data[3] = uint8(numPackets)
	cm.Data[4] = 0xFF // reserved
	cm.Data[5] = uint8(embeddedPGN)
	cm.Data[6] = uint8(embeddedPGN >> 8)
	cm.Data[7] = uint8(embeddedPGN >> 16)

	frames := make([]RawFrame, 0, numPackets+1)
	frames = append(frames, cm)

	dtHeader := header
	dtHeader.PGN = PGNTransportProtocolDataTransfer
	remaining := payload
	for seq := uint8(1); len(remaining) > 0 || seq == 1; seq++ {
		f := RawFrame{Time: ts, Header: dtHeader}
		f.Data[0] = seq
		n := copy(f.Data[1:8], remaining)
		for i := 1 + n; i < 8; i++ {
			f.Data[i] = 0xFF // pad unused bytes per J1939-21
		}
		f.Length = 8
		frames = append(frames, f)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			break
		}
	}
	return frames, nil
}
