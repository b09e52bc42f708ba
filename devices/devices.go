// Package devices implements the passive device registry (spec §4.7):
// every received PGN updates an entry keyed by source address, and the
// registry emits ISO requests to populate product/configuration info
// for newly seen nodes.
package devices

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	n2k "github.com/tuna-marine/n2k-router"
)

// Node is one tracked NMEA-2000 device, keyed internally by its 64-bit
// ISO NAME.
type Node struct {
	Source uint8

	NAME      uint64
	Name      NodeName
	ValidName bool

	ProductInfo      ProductInfo
	ValidProductInfo bool

	ConfigurationInfo      ConfigurationInfo
	ValidConfigurationInfo bool

	FirstSeen time.Time
	LastSeen  time.Time

	// PGNCounts counts every PGN received with this node's source
	// address as sender, keyed by PGN.
	PGNCounts map[uint32]uint64

	// Changed is set whenever this node's bus-address assignment
	// changes (new claim, address conflict resolution).
	Changed bool
}

type Nodes []Node

// ProductInfo is the decoded payload of PGN 126996.
type ProductInfo struct {
	NMEA2000Version uint16
	ProductCode     uint16

	ModelID             string
	SoftwareVersionCode string
	ModelVersion        string
	ModelSerialCode     string

	CertificationLevel uint8
	LoadEquivalency    uint8
}

// PGN126996ToProductInfo decodes a PGN 126996 (Product Information) message.
func PGN126996ToProductInfo(raw n2k.RawMessage) (ProductInfo, error) {
	if raw.Header.PGN != n2k.PGNProductInfo {
		return ProductInfo{}, errors.New("devices: product info can only be decoded from PGN 126996")
	}
	b := raw.Data
	if len(b) != 134 {
		return ProductInfo{}, errors.New("devices: PGN 126996 payload has unexpected length")
	}

	nmea2000Version, err := b.DecodeVariableUint(0, 16)
	if err != nil && !errors.Is(err, n2k.ErrValueNoData) {
		return ProductInfo{}, fmt.Errorf("devices: decode NMEA2000 version: %w", err)
	}
	productCode, err := b.DecodeVariableUint(16, 16)
	if err != nil && !errors.Is(err, n2k.ErrValueNoData) {
		return ProductInfo{}, fmt.Errorf("devices: decode product code: %w", err)
	}

	modelID, err := b.DecodeStringFix(32, 256)
	if err != nil {
		return ProductInfo{}, fmt.Errorf("devices: decode model id: %w", err)
	}
	softwareVersionCode, err := b.DecodeStringFix(32+256, 256)
	if err != nil {
		return ProductInfo{}, fmt.Errorf("devices: decode software version code: %w", err)
	}
	modelVersion, err := b.DecodeStringFix(544, 256)
	if err != nil {
		return ProductInfo{}, fmt.Errorf("devices: decode model version: %w", err)
	}
	modelSerialCode, err := b.DecodeStringFix(800, 256)
	if err != nil {
		return ProductInfo{}, fmt.Errorf("devices: decode model serial code: %w", err)
	}

	return ProductInfo{
		NMEA2000Version: uint16(nmea2000Version),
		ProductCode:     uint16(productCode),

		ModelID:             modelID,
		SoftwareVersionCode: softwareVersionCode,
		ModelVersion:        modelVersion,
		ModelSerialCode:     modelSerialCode,

		CertificationLevel: b[132],
		LoadEquivalency:    b[133],
	}, nil
}

// NodeName is the 64-bit ISO NAME carried by PGN 60928 (ISO Address
// Claim), used to arbitrate address-claim conflicts: the numerically
// lower NAME wins.
type NodeName struct {
	UniqueNumber        uint32 // ISO Identity Number (21 bits)
	Manufacturer        uint16 // Device Manufacturer (11 bits)
	DeviceInstanceLower uint8  // ECU Instance (3 bits)
	DeviceInstanceUpper uint8  // Function Instance (5 bits)
	DeviceFunction      uint8  // (8 bits)
	DeviceClass         uint8  // (7 bits)
	SystemInstance      uint8  // Device Class Instance (4 bits)
	IndustryGroup       uint8  // (3 bits)

	// ArbitraryAddressCapable resolves address-claim conflicts: if set,
	// this node may select any address in 128-247 rather than halting.
	ArbitraryAddressCapable uint8
}

// Bytes packs n into the 8-byte wire layout of PGN 60928's payload.
func (n NodeName) Bytes() []byte {
	return []byte{
		uint8(n.UniqueNumber & 0xff),
		uint8(n.UniqueNumber >> 8 & 0xff),
		uint8(n.UniqueNumber>>16&0b11111) | uint8(n.Manufacturer&0b111)<<5,
		uint8(n.Manufacturer >> 3 & 0xff),
		n.DeviceInstanceLower&0b111 | n.DeviceInstanceUpper&0b11111<<3,
		n.DeviceFunction,
		n.DeviceClass << 1,
		n.SystemInstance&0b1111 | (n.IndustryGroup&0b111)<<4 | n.ArbitraryAddressCapable<<7,
	}
}

// Uint64 returns n's wire layout as the 64-bit integer used for
// address-claim conflict comparison (lower value wins).
func (n NodeName) Uint64() uint64 {
	return binary.LittleEndian.Uint64(n.Bytes())
}

// PGN60928ToNodeName decodes a PGN 60928 (ISO Address Claim) message.
func PGN60928ToNodeName(raw n2k.RawMessage) (NodeName, error) {
	if raw.Header.PGN != n2k.PGNISOAddressClaim {
		return NodeName{}, errors.New("devices: node name can only be decoded from PGN 60928")
	}
	b := raw.Data
	if len(b) != 8 {
		return NodeName{}, errors.New("devices: PGN 60928 payload has unexpected length")
	}
	uniqueNumber := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2]&0b11111)<<16
	manufacturer := uint16(b[3])<<3 | uint16(b[2]>>5)
	return NodeName{
		UniqueNumber:            uniqueNumber,
		Manufacturer:            manufacturer,
		DeviceInstanceLower:     b[4] & 0b111,
		DeviceInstanceUpper:     b[4] >> 3,
		DeviceFunction:          b[5],
		DeviceClass:             b[6] >> 1,
		SystemInstance:          b[7] & 0b1111,
		IndustryGroup:           (b[7] >> 4) & 0b111,
		ArbitraryAddressCapable: b[7] >> 7,
	}, nil
}

// ConfigurationInfo is the decoded payload of PGN 126998.
type ConfigurationInfo struct {
	InstallationDesc1 string
	InstallationDesc2 string
	ManufacturerInfo  string
}

// PGN126998ToConfigurationInfo decodes a PGN 126998 (Configuration
// Information) message.
func PGN126998ToConfigurationInfo(raw n2k.RawMessage) (ConfigurationInfo, error) {
	if raw.Header.PGN != n2k.PGNConfigurationInformation {
		return ConfigurationInfo{}, errors.New("devices: configuration info can only be decoded from PGN 126998")
	}
	instDesc1, offset, err := raw.Data.DecodeStringLAU(0)
	if err != nil {
		return ConfigurationInfo{}, fmt.Errorf("devices: decode installation description 1: %w", err)
	}
	instDesc2, offset, err := raw.Data.DecodeStringLAU(offset)
	if err != nil {
		return ConfigurationInfo{}, fmt.Errorf("devices: decode installation description 2: %w", err)
	}
	manufInfo, _, err := raw.Data.DecodeStringLAU(offset)
	if err != nil {
		return ConfigurationInfo{}, fmt.Errorf("devices: decode manufacturer info: %w", err)
	}
	return ConfigurationInfo{
		InstallationDesc1: instDesc1,
		InstallationDesc2: instDesc2,
		ManufacturerInfo:  manufInfo,
	}, nil
}

type busSlot struct {
	node    *Node
	claimed time.Time

	productInfoRequested time.Time
	configInfoRequested  time.Time
}

// Registry tracks every node seen on the bus, keyed by its ISO NAME and
// current bus address, and generates the ISO requests needed to
// populate product/configuration info for newly discovered nodes.
type Registry struct {
	mutex sync.Mutex

	requestsEnabled bool

	knownNodes   map[uint64]*Node
	address2node [255]*busSlot

	requests chan n2k.RawMessage

	now func() time.Time
}

// NewRegistry creates an empty Registry. requestsBuffer bounds the
// internal channel of ISO requests a caller should forward to the bus
// via Requests().
func NewRegistry(requestsBuffer int) *Registry {
	return &Registry{
		now:          time.Now,
		knownNodes:   make(map[uint64]*Node),
		address2node: [255]*busSlot{},
		requests:     make(chan n2k.RawMessage, requestsBuffer),
	}
}

// SetRequestsEnabled toggles whether the registry emits ISO requests for
// newly discovered nodes. Off by default so callers can wait for the
// CAN application to claim an address before any writes are attempted.
func (r *Registry) SetRequestsEnabled(enabled bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.requestsEnabled = enabled
}

// Requests is the channel of ISO request messages the caller should
// forward to the CAN interface's write path.
func (r *Registry) Requests() <-chan n2k.RawMessage {
	return r.requests
}

func (r *Registry) enqueueRequest(msg n2k.RawMessage) {
	select {
	case r.requests <- msg:
	default: // drop rather than block; a slow consumer shouldn't stall Process
	}
}

// Process updates the registry from one received message and reports
// whether a node's bus-address assignment changed.
func (r *Registry) Process(raw n2k.RawMessage) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	source := raw.Header.Source
	var slot *busSlot
	if source >= n2k.AddressNull {
		slot = new(busSlot)
	} else {
		slot = r.address2node[source]
		if slot == nil {
			slot = new(busSlot)
			r.address2node[source] = slot
		}
		if slot.node != nil {
			slot.node.LastSeen = raw.Time
			if slot.node.PGNCounts == nil {
				slot.node.PGNCounts = make(map[uint32]uint64)
			}
			slot.node.PGNCounts[raw.Header.PGN]++
		}
	}

	changed := false
	switch raw.Header.PGN {
	case n2k.PGNISOAddressClaim:
		isChanged, err := r.processISOAddressClaim(slot, raw)
		if err != nil {
			return false, err
		}
		changed = isChanged
	case n2k.PGNProductInfo:
		if err := r.processProductInfo(slot, raw); err != nil {
			return false, err
		}
	case n2k.PGNConfigurationInformation:
		if err := r.processConfigurationInfo(slot, raw); err != nil {
			return false, err
		}
	}
	return changed, nil
}

func (r *Registry) processISOAddressClaim(slot *busSlot, raw n2k.RawMessage) (bool, error) {
	name, err := PGN60928ToNodeName(raw)
	if err != nil {
		return false, err
	}
	source := raw.Header.Source
	name64 := binary.LittleEndian.Uint64(raw.Data)

	currentNode, ok := r.knownNodes[name64]
	if !ok {
		currentNode = &Node{
			Source:    source,
			NAME:      name64,
			Name:      name,
			ValidName: true,
			FirstSeen: raw.Time,
			LastSeen:  raw.Time,
			PGNCounts: make(map[uint32]uint64),
		}
		r.knownNodes[name64] = currentNode
	}

	changed := false
	switch {
	case slot.node == nil:
		currentNode.Source = source
		currentNode.Changed = true
		slot.node = currentNode
		slot.claimed = r.now()
		changed = true
	case slot.node.ValidName && currentNode.NAME < slot.node.NAME:
		slot.node.Source = n2k.AddressNull
		slot.node.Changed = true
		currentNode.Source = source
		currentNode.Changed = true
		slot.node = currentNode
		slot.claimed = r.now()
		changed = true
	}

	if r.requestsEnabled && slot.productInfoRequested.IsZero() {
		slot.productInfoRequested = r.now()
		r.enqueueRequest(createISORequest(n2k.PGNProductInfo, source))
	}
	return changed, nil
}

func (r *Registry) processProductInfo(slot *busSlot, raw n2k.RawMessage) error {
	if slot.node == nil || !slot.node.ValidName {
		return nil
	}
	info, err := PGN126996ToProductInfo(raw)
	if err != nil {
		return err
	}
	slot.node.ProductInfo = info
	slot.node.ValidProductInfo = true

	if r.requestsEnabled && slot.configInfoRequested.IsZero() {
		slot.configInfoRequested = r.now()
		r.enqueueRequest(createISORequest(n2k.PGNConfigurationInformation, raw.Header.Source))
	}
	return nil
}

func (r *Registry) processConfigurationInfo(slot *busSlot, raw n2k.RawMessage) error {
	if slot.node == nil || !slot.node.ValidName {
		return nil
	}
	ci, err := PGN126998ToConfigurationInfo(raw)
	if err != nil {
		return err
	}
	slot.node.ConfigurationInfo = ci
	slot.node.ValidConfigurationInfo = true
	return nil
}

// BroadcastIsoAddressClaimRequest queues a global ISO request for PGN
// 60928, used at startup to discover nodes already on the bus.
func (r *Registry) BroadcastIsoAddressClaimRequest() {
	r.enqueueRequest(createISORequest(n2k.PGNISOAddressClaim, n2k.AddressGlobal))
}

// Nodes returns every node this registry has seen, current or stale.
func (r *Registry) Nodes() Nodes {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make(Nodes, 0, len(r.knownNodes))
	for _, n := range r.knownNodes {
		result = append(result, *n)
	}
	return result
}

// NodesInUseBySource returns the nodes currently holding a valid bus
// address, keyed by that address.
func (r *Registry) NodesInUseBySource() map[uint8]Node {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	result := make(map[uint8]Node)
	for _, n := range r.knownNodes {
		node := *n
		if node.Source >= n2k.AddressNull || !node.ValidName {
			continue
		}
		result[node.Source] = node
	}
	return result
}

func createISORequest(forPGN uint32, destination uint8) n2k.RawMessage {
	return n2k.RawMessage{
		Header: n2k.CanBusHeader{
			PGN:      n2k.PGNISORequest,
			Priority: 6,
			// A node without a claimed address uses the NULL address
			// (254) as source when requesting Address Claimed.
			Source:      n2k.AddressNull,
			Destination: destination,
		},
		Data: []byte{
			uint8(forPGN & 0xff),
			uint8((forPGN >> 8) & 0xff),
			uint8((forPGN >> 16) & 0xff),
		},
	}
}
