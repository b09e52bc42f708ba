package n2k

import "errors"

// Sentinel errors shared by the framing core (n2k, pgn) and the coupler
// pipeline. Each corresponds to a "Kind" in spec §7's error-handling table;
// callers test with errors.Is, and most are non-fatal (logged, message
// dropped, loop continues) unless documented otherwise below.
var (
	// ErrFastPacket is returned for a duplicate frame index or a missing
	// leading frame in a Fast-Packet sequence. Non-fatal: discard partial.
	ErrFastPacket = errors.New("n2k: fast-packet sequence error")

	// ErrIsoTP is returned for a malformed TP.CM/TP.DT frame: an
	// unrecognized control byte, a TP.DT with no preceding TP.CM, or a
	// duplicate or out-of-range TP.DT sequence number. Non-fatal.
	// Sequences that time out are dropped by IsoTPAssembler.Sweep without
	// an error, and TP.DT frames arriving out of order are accepted.
	ErrIsoTP = errors.New("n2k: iso-tp sequence error")

	// ErrIsoTPUnsupported is returned when a TP.CM control byte requests
	// RTS/CTS point-to-point transfer, which this core does not implement.
	ErrIsoTPUnsupported = errors.New("n2k: iso-tp point-to-point (RTS/CTS) is not supported, BAM only")

	// ErrTimeout is returned by a blocking read that hit its deadline
	// without data. Silent: the read loop re-enters.
	ErrTimeout = errors.New("n2k: read timeout")

	// ErrUnknownPGN indicates the PGN schema registry has no definition
	// for a received PGN.
	ErrUnknownPGN = errors.New("n2k: unknown PGN")
)
