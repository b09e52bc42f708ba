package canapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/devices"
)

type fakeWriter struct {
	sent []n2k.RawMessage
}

func (f *fakeWriter) WriteRawMessage(_ context.Context, msg n2k.RawMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func testApp() (*App, *fakeWriter) {
	w := &fakeWriter{}
	a := New(Config{
		Name:        devices.NodeName{UniqueNumber: 100, Manufacturer: 1857},
		AddressPool: []uint8{24, 25, 26},
	}, w)
	return a, w
}

func TestApp_Start_sendsAddressClaim(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))

	require.Len(t, w.sent, 1)
	assert.Equal(t, n2k.PGNISOAddressClaim, w.sent[0].Header.PGN)
	assert.EqualValues(t, 24, w.sent[0].Header.Source)
	assert.Equal(t, StateAddressClaim, a.State())
}

func TestApp_handleAddressClaim_weWinOnLowerName(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	conflict := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNISOAddressClaim, Source: 24},
		Data:   []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, // a very high NAME; ours is lower
	}
	require.NoError(t, a.HandleMessage(context.Background(), conflict))

	require.Len(t, w.sent, 1)
	assert.Equal(t, n2k.PGNISOAddressClaim, w.sent[0].Header.PGN)
	assert.EqualValues(t, 24, a.Address()) // kept our address, re-asserted claim
}

func TestApp_handleAddressClaim_theyWinMovesToNextAddress(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	conflict := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNISOAddressClaim, Source: 24},
		Data:   []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, // lower than ours, they win
	}
	require.NoError(t, a.HandleMessage(context.Background(), conflict))

	assert.EqualValues(t, 25, a.Address())
	require.Len(t, w.sent, 1)
	assert.EqualValues(t, 25, w.sent[0].Header.Source)
}

func TestApp_poolExhausted_broadcastsCannotClaim(t *testing.T) {
	w := &fakeWriter{}
	a := New(Config{
		Name:        devices.NodeName{UniqueNumber: 100},
		AddressPool: []uint8{24},
	}, w)
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	conflict := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNISOAddressClaim, Source: 24},
		Data:   []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}
	require.NoError(t, a.HandleMessage(context.Background(), conflict))
	assert.Equal(t, StateHalted, a.State())

	require.Len(t, w.sent, 1)
	assert.EqualValues(t, n2k.AddressNull, w.sent[0].Header.Source)
}

func TestApp_handleISORequest_respondsWithClaim(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	req := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNISORequest, Destination: n2k.AddressGlobal},
		Data:   []byte{0x0, 0xEE, 0x0}, // requesting PGN 60928
	}
	require.NoError(t, a.HandleMessage(context.Background(), req))

	require.Len(t, w.sent, 1)
	assert.Equal(t, n2k.PGNISOAddressClaim, w.sent[0].Header.PGN)
}

func TestApp_handleCommandedAddress_ignoresOtherName(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	cmd := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNCommandedAddress},
		Data:   append([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 30),
	}
	require.NoError(t, a.HandleMessage(context.Background(), cmd))
	assert.Empty(t, w.sent)
	assert.EqualValues(t, 24, a.Address())
}

func TestApp_handleGroupFunction_unsupportedGetsErrorAck(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	gf := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNGroupFunction},
		// Request (function 0) on PGN 126996: the only function this
		// node acts on is Command, so this is rejected at the PGN level.
		Data: []byte{groupFunctionRequest, 0x14, 0xf0, 0x01},
	}
	require.NoError(t, a.HandleMessage(context.Background(), gf))

	require.Len(t, w.sent, 1)
	assert.EqualValues(t, 1, w.sent[0].Data[4]>>4)
	assert.EqualValues(t, 0, w.sent[0].Data[5]) // no parameters
}

func TestApp_handleISORequest_respondsWithConfigurationInfo(t *testing.T) {
	w := &fakeWriter{}
	a := New(Config{
		Name:        devices.NodeName{UniqueNumber: 100, Manufacturer: 1857},
		AddressPool: []uint8{24},
		ConfigurationInfo: devices.ConfigurationInfo{
			InstallationDesc1: "mast top",
			InstallationDesc2: "nav station",
			ManufacturerInfo:  "tuna-marine",
		},
	}, w)
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	req := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNISORequest, Destination: n2k.AddressGlobal},
		Data:   []byte{0x16, 0xf0, 0x01}, // requesting PGN 126998
	}
	require.NoError(t, a.HandleMessage(context.Background(), req))

	require.Len(t, w.sent, 1)
	require.Equal(t, n2k.PGNConfigurationInformation, w.sent[0].Header.PGN)

	ci, err := devices.PGN126998ToConfigurationInfo(w.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "mast top", ci.InstallationDesc1)
	assert.Equal(t, "nav station", ci.InstallationDesc2)
	assert.Equal(t, "tuna-marine", ci.ManufacturerInfo)
}

func TestApp_handleGroupFunction_commandOn126998UpdatesInstallationStrings(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	desc1 := encodeStringLAU("engine room")
	desc2 := encodeStringLAU("helm")
	payload := []byte{groupFunctionCommand, 0x16, 0xf0, 0x01, 0x00, 0x02}
	payload = append(payload, 1) // parameter 1: Installation Description 1
	payload = append(payload, desc1...)
	payload = append(payload, 2) // parameter 2: Installation Description 2
	payload = append(payload, desc2...)

	gf := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNGroupFunction},
		Data:   payload,
	}
	require.NoError(t, a.HandleMessage(context.Background(), gf))

	a.mu.Lock()
	gotDesc1, gotDesc2 := a.configInfo.InstallationDesc1, a.configInfo.InstallationDesc2
	a.mu.Unlock()
	assert.Equal(t, "engine room", gotDesc1)
	assert.Equal(t, "helm", gotDesc2)

	require.Len(t, w.sent, 1)
	ack := w.sent[0]
	assert.Equal(t, n2k.PGNGroupFunction, ack.Header.PGN)
	assert.EqualValues(t, 0, ack.Data[4]>>4) // accepted at the PGN level
	assert.EqualValues(t, 2, ack.Data[5])     // two parameters acknowledged
	assert.EqualValues(t, 0, ack.Data[6]>>4)  // parameter 1: success
	assert.EqualValues(t, 0, ack.Data[6]&0xF) // parameter 2: success
}

func TestApp_handleGroupFunction_commandOn126998UnknownParameterStopsEarly(t *testing.T) {
	a, w := testApp()
	require.NoError(t, a.Start(context.Background()))
	w.sent = nil

	payload := []byte{groupFunctionCommand, 0x16, 0xf0, 0x01, 0x00, 0x01, 9} // parameter 9 doesn't exist
	gf := n2k.RawMessage{
		Header: n2k.CanBusHeader{PGN: n2k.PGNGroupFunction},
		Data:   payload,
	}
	require.NoError(t, a.HandleMessage(context.Background(), gf))

	require.Len(t, w.sent, 1)
	ack := w.sent[0]
	assert.EqualValues(t, 0, ack.Data[4]>>4) // PGN itself accepted
	assert.EqualValues(t, 1, ack.Data[5])    // one parameter result: error
	assert.EqualValues(t, 1, ack.Data[6]>>4)
}
