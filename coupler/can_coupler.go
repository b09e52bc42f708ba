package coupler

import (
	"context"

	n2k "github.com/tuna-marine/n2k-router"
	"github.com/tuna-marine/n2k-router/caninterface"
	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/pgn"
)

// CANTransport adapts a caninterface.Device to the Transport contract.
type CANTransport struct {
	device  *caninterface.Device
	encoder *pgn.Encoder // only needed to send already-decoded envelopes
}

// NewCANTransport wraps an already-configured Device (Initialize is
// called from Open, matching the generic runner's lifecycle). encoder
// may be nil if this coupler only ever sends raw envelopes.
func NewCANTransport(device *caninterface.Device, encoder *pgn.Encoder) *CANTransport {
	return &CANTransport{device: device, encoder: encoder}
}

func (t *CANTransport) Open(_ context.Context) bool {
	return t.device.Initialize() == nil
}

func (t *CANTransport) Close() error {
	return t.device.Close()
}

func (t *CANTransport) ReadOne(ctx context.Context) (message.Envelope, error) {
	raw, err := t.device.ReadRawMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return message.Envelope{}, ErrTimeout
		}
		return message.Envelope{}, ErrReadError
	}
	return message.FromRaw(raw), nil
}

func (t *CANTransport) Send(ctx context.Context, env message.Envelope) bool {
	raw, err := env.ToRaw(t.encoder)
	if err != nil {
		return false
	}
	return t.device.WriteRawMessage(ctx, raw) == nil
}

var _ n2k.RawMessageReaderWriter = (*caninterface.Device)(nil)
