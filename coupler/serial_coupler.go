package coupler

import (
	"context"
	"fmt"
	"time"

	"github.com/tarm/serial"

	"github.com/tuna-marine/n2k-router/actisense"
	"github.com/tuna-marine/n2k-router/message"
)

// SerialPortConfig names the USB-to-CAN serial device a SerialTransport
// opens, mirroring the teacher's cmd/n2kreader serial.Config wiring.
type SerialPortConfig struct {
	Name string
	Baud int

	// ReceiveDataTimeout bounds how long the underlying NGT1 reader can
	// see no data before ReadRawMessage errors out.
	ReceiveDataTimeout time.Duration
}

func (c SerialPortConfig) withDefaults() SerialPortConfig {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReceiveDataTimeout == 0 {
		c.ReceiveDataTimeout = 5 * time.Second
	}
	return c
}

// SerialTransport drives an Actisense NGT-1 style device over a serial
// port, the pattern behind VE.Direct and NGT-1 couplers alike.
type SerialTransport struct {
	config SerialPortConfig
	port   *serial.Port
	device *actisense.NGT1
}

// NewSerialTransport creates a transport that will open config.Name on
// the first Open call; it does nothing until then.
func NewSerialTransport(config SerialPortConfig) *SerialTransport {
	return &SerialTransport{config: config.withDefaults()}
}

func (t *SerialTransport) Open(_ context.Context) bool {
	port, err := serial.OpenPort(&serial.Config{
		Name:        t.config.Name,
		Baud:        t.config.Baud,
		ReadTimeout: 100 * time.Millisecond,
		Size:        8,
	})
	if err != nil {
		return false
	}
	t.port = port
	t.device = actisense.NewNGT1DeviceWithConfig(port, actisense.Config{
		ReceiveDataTimeout: t.config.ReceiveDataTimeout,
	})
	return t.device.Initialize() == nil
}

func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

func (t *SerialTransport) ReadOne(ctx context.Context) (message.Envelope, error) {
	raw, err := t.device.ReadRawMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return message.Envelope{}, ErrTimeout
		}
		return message.Envelope{}, fmt.Errorf("%w: %v", ErrReadError, err)
	}
	return message.FromRaw(raw), nil
}

func (t *SerialTransport) Send(ctx context.Context, env message.Envelope) bool {
	raw, err := env.ToRaw(nil)
	if err != nil {
		return false
	}
	return t.device.WriteRawMessage(ctx, raw) == nil
}

var _ Transport = (*SerialTransport)(nil)
