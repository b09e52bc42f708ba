// Package canapp implements the CAN application layer (spec §4.6): it
// owns this node's ISO NAME, claims a bus address, answers
// address-management traffic, and routes ISO-protocol PGNs away from
// the ordinary data path.
package canapp

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/devices"
)

// State is this node's position in the address-claim state machine.
type State uint8

const (
	StateWaitForBus State = iota
	StateAddressClaim
	StateActive
	StateHalted // address pool exhausted, cannot claim
)

// addressClaimDelay is how long this node waits after broadcasting its
// claim before considering it unopposed.
const addressClaimDelay = 250 * time.Millisecond

// Writer is the minimal surface canapp needs from the CAN interface; it
// mirrors n2k.RawMessageWriter so canapp can be driven without an
// import cycle on caninterface.
type Writer interface {
	WriteRawMessage(ctx context.Context, msg n2k.RawMessage) error
}

// ProductInfo is the static identity this node advertises when asked
// (spec §4.6 "Outgoing product information").
type ProductInfo struct {
	ModelID             string
	SoftwareVersion     string
	ModelVersion        string
	ModelSerialCode     string
	CertificationLevel  uint8
	LoadEquivalency     uint8
	NMEA2000Version     uint16
	ProductCode         uint16
}

// Config configures one local CAN application instance.
type Config struct {
	Name        devices.NodeName
	AddressPool []uint8 // candidate addresses to try, in order
	ProductInfo ProductInfo
	// ConfigurationInfo seeds the Configuration Information (PGN 126998)
	// this node answers ISO Requests with; a Command Group Function
	// targeting 126998 can update its installation strings at runtime.
	ConfigurationInfo devices.ConfigurationInfo
	Registry          *devices.Registry // passive device tracker to notify of address changes
}

// App runs the address-claim state machine and answers ISO-protocol
// traffic for one local NMEA-2000 node.
type App struct {
	mu sync.Mutex

	name        devices.NodeName
	nameUint64  uint64
	addressPool []uint8
	poolIndex   int
	address     uint8

	productInfo ProductInfo
	configInfo  devices.ConfigurationInfo
	registry    *devices.Registry

	state State

	writer Writer
	now    func() time.Time
}

// New creates an App. Call Start and then AwaitClaimWindow to drive it;
// State and Address report its progress to callers wanting to gate their
// own writes (e.g. caninterface.Device.SetAddressClaimed).
func New(config Config, writer Writer) *App {
	a := &App{
		name:        config.Name,
		nameUint64:  config.Name.Uint64(),
		addressPool: append([]uint8{}, config.AddressPool...),
		productInfo: config.ProductInfo,
		configInfo:  config.ConfigurationInfo,
		registry:    config.Registry,
		writer:      writer,
		now:         time.Now,
	}
	if len(a.addressPool) > 0 {
		a.address = a.addressPool[0]
	}
	return a
}

// State reports the current state-machine state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Address reports this node's currently claimed (or attempted) bus address.
func (a *App) Address() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.address
}

// Start transitions WAIT_FOR_BUS → ADDRESS_CLAIM by sending our Address
// Claim globally. Called once the CAN interface signals bus readiness.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateAddressClaim
	a.mu.Unlock()
	return a.sendClaim(ctx)
}

func (a *App) sendClaim(ctx context.Context) error {
	a.mu.Lock()
	addr := a.address
	a.mu.Unlock()

	claim := n2k.RawMessage{
		Time: a.now(),
		Header: n2k.CanBusHeader{
			PGN:         n2k.PGNISOAddressClaim,
			Priority:    6,
			Source:      addr,
			Destination: n2k.AddressGlobal,
		},
		Data: a.name.Bytes(),
	}
	return a.writer.WriteRawMessage(ctx, claim)
}

// AwaitClaimWindow blocks for the 250ms address-claim delay, then
// transitions ADDRESS_CLAIM → ACTIVE if no conflicting claim moved the
// state in the meantime, and broadcasts a discovery request for other
// nodes' claims.
func (a *App) AwaitClaimWindow(ctx context.Context) error {
	select {
	case <-time.After(addressClaimDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	if a.state != StateAddressClaim {
		a.mu.Unlock()
		return nil // a conflict already moved us elsewhere
	}
	a.state = StateActive
	a.mu.Unlock()

	if a.registry != nil {
		a.registry.SetRequestsEnabled(true)
		a.registry.BroadcastIsoAddressClaimRequest()
	}
	return nil
}

// HandleMessage routes one ISO-protocol PGN to the appropriate handler.
// Callers should only forward PGNs for which n2k.IsIsoProtocolPGN is true.
func (a *App) HandleMessage(ctx context.Context, raw n2k.RawMessage) error {
	switch raw.Header.PGN {
	case n2k.PGNISOAddressClaim:
		return a.handleAddressClaim(ctx, raw)
	case n2k.PGNISORequest:
		return a.handleISORequest(ctx, raw)
	case n2k.PGNCommandedAddress:
		return a.handleCommandedAddress(ctx, raw)
	case n2k.PGNGroupFunction:
		return a.handleGroupFunction(ctx, raw)
	default:
		return nil
	}
}

// handleAddressClaim implements the conflict-resolution rule: on any
// incoming claim for our own address, compare ISO NAME values and
// either re-assert (we win) or pick the next pool address (they win).
func (a *App) handleAddressClaim(ctx context.Context, raw n2k.RawMessage) error {
	a.mu.Lock()
	ours := raw.Header.Source == a.address
	a.mu.Unlock()
	if !ours {
		return nil
	}

	theirName := binary.LittleEndian.Uint64(raw.Data)

	a.mu.Lock()
	weWin := a.nameUint64 < theirName
	a.mu.Unlock()

	if weWin {
		return a.sendClaim(ctx)
	}
	return a.claimNextAddress(ctx)
}

func (a *App) claimNextAddress(ctx context.Context) error {
	a.mu.Lock()
	a.poolIndex++
	if a.poolIndex >= len(a.addressPool) {
		a.state = StateHalted
		a.mu.Unlock()
		return a.broadcastCannotClaim(ctx)
	}
	a.address = a.addressPool[a.poolIndex]
	a.state = StateAddressClaim
	a.mu.Unlock()

	return a.sendClaim(ctx)
}

func (a *App) broadcastCannotClaim(ctx context.Context) error {
	msg := n2k.RawMessage{
		Time: a.now(),
		Header: n2k.CanBusHeader{
			PGN:         n2k.PGNISOAddressClaim,
			Priority:    6,
			Source:      n2k.AddressNull,
			Destination: n2k.AddressGlobal,
		},
		Data: a.name.Bytes(),
	}
	return a.writer.WriteRawMessage(ctx, msg)
}

// handleISORequest answers a request for our Address Claim, Product
// Information, or Configuration Information, if addressed to us or
// broadcast.
func (a *App) handleISORequest(ctx context.Context, raw n2k.RawMessage) error {
	a.mu.Lock()
	addr := a.address
	a.mu.Unlock()
	if raw.Header.Destination != addr && raw.Header.Destination != n2k.AddressGlobal {
		return nil
	}
	if len(raw.Data) < 3 {
		return fmt.Errorf("canapp: iso request payload too short")
	}
	requestedPGN := uint32(raw.Data[0]) | uint32(raw.Data[1])<<8 | uint32(raw.Data[2])<<16

	switch requestedPGN {
	case n2k.PGNISOAddressClaim:
		return a.sendClaim(ctx)
	case n2k.PGNProductInfo:
		return a.sendProductInfo(ctx)
	case n2k.PGNConfigurationInformation:
		return a.sendConfigurationInfo(ctx)
	default:
		return nil
	}
}

func (a *App) sendProductInfo(ctx context.Context) error {
	a.mu.Lock()
	addr := a.address
	pi := a.productInfo
	a.mu.Unlock()

	data := make([]byte, 134)
	binary.LittleEndian.PutUint16(data[0:2], pi.NMEA2000Version)
	binary.LittleEndian.PutUint16(data[2:4], pi.ProductCode)
	copy(data[4:4+32], padTo(pi.ModelID, 32))
	copy(data[36:36+32], padTo(pi.SoftwareVersion, 32))
	copy(data[68:68+32], padTo(pi.ModelVersion, 32))
	copy(data[100:100+32], padTo(pi.ModelSerialCode, 32))
	data[132] = pi.CertificationLevel
	data[133] = pi.LoadEquivalency

	msg := n2k.RawMessage{
		Time: a.now(),
		Header: n2k.CanBusHeader{
			PGN:         n2k.PGNProductInfo,
			Priority:    6,
			Source:      addr,
			Destination: n2k.AddressGlobal,
		},
		Data: data,
	}
	return a.writer.WriteRawMessage(ctx, msg)
}

// sendConfigurationInfo answers an ISO Request for PGN 126998 with our
// two installation description strings and manufacturer info, each in
// the LAU (length/encoding-prefixed) string format spec §4.6 names.
func (a *App) sendConfigurationInfo(ctx context.Context) error {
	a.mu.Lock()
	addr := a.address
	ci := a.configInfo
	a.mu.Unlock()

	data := make([]byte, 0, 64)
	data = append(data, encodeStringLAU(ci.InstallationDesc1)...)
	data = append(data, encodeStringLAU(ci.InstallationDesc2)...)
	data = append(data, encodeStringLAU(ci.ManufacturerInfo)...)

	msg := n2k.RawMessage{
		Time: a.now(),
		Header: n2k.CanBusHeader{
			PGN:         n2k.PGNConfigurationInformation,
			Priority:    6,
			Source:      addr,
			Destination: n2k.AddressGlobal,
		},
		Data: data,
	}
	return a.writer.WriteRawMessage(ctx, msg)
}

// encodeStringLAU renders s in the LAU string format
// devices.PGN126998ToConfigurationInfo decodes: a length byte (the
// string's byte length plus the two header bytes), an encoding byte
// (1 = ASCII/UTF-8), then the raw bytes.
func encodeStringLAU(s string) []byte {
	b := []byte(s)
	if len(b) > 253 {
		b = b[:253]
	}
	out := make([]byte, 2+len(b))
	out[0] = uint8(len(b) + 2)
	out[1] = 1
	copy(out[2:], b)
	return out
}

func padTo(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

// handleCommandedAddress changes our address if the embedded ISO NAME
// matches ours, and ignores the command otherwise.
func (a *App) handleCommandedAddress(ctx context.Context, raw n2k.RawMessage) error {
	if len(raw.Data) < 9 {
		return fmt.Errorf("canapp: commanded address payload too short")
	}
	name := binary.LittleEndian.Uint64(raw.Data[0:8])

	a.mu.Lock()
	matches := name == a.nameUint64
	a.mu.Unlock()
	if !matches {
		return nil
	}

	a.mu.Lock()
	a.address = raw.Data[8]
	a.state = StateAddressClaim
	a.mu.Unlock()

	return a.sendClaim(ctx)
}

// Group Function codes (PGN 126208).
const (
	groupFunctionRequest    uint8 = 0
	groupFunctionCommand    uint8 = 1
	groupFunctionAcknowledge uint8 = 2
	groupFunctionReadFields uint8 = 3
	groupFunctionWriteFields uint8 = 5
)

// handleGroupFunction implements Command on PGN 60928 (accepted at the
// PGN level; ISO Name subfield changes aren't decoded) and Command on
// PGN 126998 (full per-parameter installation-string decode); every
// other function/PGN gets an Acknowledge rejected at the PGN level, per
// spec §4.6.
func (a *App) handleGroupFunction(ctx context.Context, raw n2k.RawMessage) error {
	if len(raw.Data) < 4 {
		return fmt.Errorf("canapp: group function payload too short")
	}
	function := raw.Data[0]
	targetPGN := uint32(raw.Data[1]) | uint32(raw.Data[2])<<8 | uint32(raw.Data[3])<<16

	if function != groupFunctionCommand {
		return a.sendGroupFunctionAck(ctx, targetPGN, 1, nil)
	}

	switch targetPGN {
	case n2k.PGNISOAddressClaim:
		return a.sendGroupFunctionAck(ctx, targetPGN, 0, nil)
	case n2k.PGNConfigurationInformation:
		codes := a.handleConfigurationInfoCommand(raw.Data)
		return a.sendGroupFunctionAck(ctx, targetPGN, 0, codes)
	default:
		return a.sendGroupFunctionAck(ctx, targetPGN, 1, nil)
	}
}

// handleConfigurationInfoCommand decodes a Command Group Function's
// per-parameter updates for PGN 126998 and applies them, grounded on
// original_source's ConfigurationInformation.decode_command_parameters:
// parameter 1 is Installation Description 1, parameter 2 is
// Installation Description 2. Any other parameter number has no
// declared length to skip past, so it ends the scan with one final
// error code rather than risk misreading the rest of the payload.
// Header layout (starting at byte 4): priority/reserved byte, then the
// parameter count.
func (a *App) handleConfigurationInfoCommand(data n2k.RawData) []uint8 {
	if len(data) < 6 {
		return nil
	}
	nbParam := int(data[5])
	byteIndex := 6
	codes := make([]uint8, 0, nbParam)

	for i := 0; i < nbParam && byteIndex < len(data); i++ {
		paramNum := data[byteIndex]
		byteIndex++

		if paramNum != 1 && paramNum != 2 {
			codes = append(codes, 1)
			break
		}

		str, readBits, err := data.DecodeStringLAU(uint16(byteIndex) * 8)
		if err != nil {
			codes = append(codes, 1)
			break
		}
		byteIndex += int(readBits / 8)

		a.mu.Lock()
		if paramNum == 1 {
			a.configInfo.InstallationDesc1 = str
		} else {
			a.configInfo.InstallationDesc2 = str
		}
		a.mu.Unlock()
		codes = append(codes, 0)
	}
	return codes
}

// sendGroupFunctionAck replies with the NMEA-2000 Acknowledge wire
// format for PGN 126208 function 2: function byte, the commanded PGN
// (3 bytes), a combined PGN-error/transmission-error nibble pair, a
// parameter count, then one 4-bit result code per commanded parameter
// packed two to a byte — grounded on original_source's
// AcknowledgeGroupFunction.encode_payload.
func (a *App) sendGroupFunctionAck(ctx context.Context, forPGN uint32, pgnErrorCode uint8, paramCodes []uint8) error {
	a.mu.Lock()
	addr := a.address
	a.mu.Unlock()

	nbParam := len(paramCodes)
	data := make([]byte, 6+(nbParam+1)/2)
	data[0] = groupFunctionAcknowledge
	data[1] = uint8(forPGN & 0xff)
	data[2] = uint8((forPGN >> 8) & 0xff)
	data[3] = uint8((forPGN >> 16) & 0xff)
	data[4] = pgnErrorCode << 4 // transmission error code, low nibble, is always 0
	data[5] = uint8(nbParam)
	for i, code := range paramCodes {
		shift := 4
		if i%2 == 1 {
			shift = 0
		}
		data[6+i/2] |= (code & 0xF) << shift
	}

	msg := n2k.RawMessage{
		Time: a.now(),
		Header: n2k.CanBusHeader{
			PGN:         n2k.PGNGroupFunction,
			Priority:    3,
			Source:      addr,
			Destination: n2k.AddressGlobal,
		},
		Data: data,
	}
	return a.writer.WriteRawMessage(ctx, msg)
}
