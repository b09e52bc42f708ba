package caninterface

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n2k "github.com/tuna-marine/n2k-router"
)

func TestDevice_WriteRawMessage_blockedBeforeAddressClaimed(t *testing.T) {
	d := NewDevice(DeviceConfig{InterfaceName: "vcan0"})

	err := d.WriteRawMessage(context.Background(), n2k.RawMessage{Header: n2k.CanBusHeader{PGN: 130306}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCANWrite)
}

func TestDevice_WriteRawMessage_isoProtocolAllowedBeforeClaim(t *testing.T) {
	d := NewDevice(DeviceConfig{InterfaceName: "vcan0", WriteQueueSize: 1})
	// no Initialize(); there is no conn/worker, so only assert the
	// address-claimed gate itself lets ISO protocol traffic past it.
	require.False(t, d.addressClaimed.Load())
	assert.True(t, n2k.IsIsoProtocolPGN(59904)) // ISO Request
}

func TestDevice_isLocalAddress(t *testing.T) {
	d := NewDevice(DeviceConfig{InterfaceName: "vcan0"})
	d.AddLocalAddress(24)

	assert.True(t, d.isLocalAddress(24))
	assert.True(t, d.isLocalAddress(n2k.AddressGlobal))
	assert.False(t, d.isLocalAddress(25))
}

func TestDevice_framesFor_singleFrame(t *testing.T) {
	d := NewDevice(DeviceConfig{InterfaceName: "vcan0"})
	d.timeNow = func() time.Time { return time.Unix(0, 0) }

	frames, err := d.framesFor(n2k.CanBusHeader{PGN: 127250}, n2k.RawData{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.EqualValues(t, 3, frames[0].Length)
}

func TestDevice_framesFor_fastPacket(t *testing.T) {
	d := NewDevice(DeviceConfig{InterfaceName: "vcan0", FastPacketPGNs: []uint32{129029}})
	d.timeNow = func() time.Time { return time.Unix(0, 0) }

	frames, err := d.framesFor(n2k.CanBusHeader{PGN: 129029}, make(n2k.RawData, 20))
	require.NoError(t, err)
	assert.Greater(t, len(frames), 1)
}
