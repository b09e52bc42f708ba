package coupler

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
)

// VEDirectConfig names the serial device a Victron VE.Direct text
// protocol device is attached to.
type VEDirectConfig struct {
	Name string
	Baud int
}

func (c VEDirectConfig) withDefaults() VEDirectConfig {
	if c.Baud == 0 {
		c.Baud = 19200 // VE.Direct's fixed line rate
	}
	return c
}

// VEDirectTransport reads whole VE.Direct text records off a serial
// port. It is read-only: Send always fails.
type VEDirectTransport struct {
	config VEDirectConfig
	port   *serial.Port
	reader *bufio.Reader
}

// NewVEDirectTransport creates a transport that opens config.Name on
// the first Open call.
func NewVEDirectTransport(config VEDirectConfig) *VEDirectTransport {
	return &VEDirectTransport{config: config.withDefaults()}
}

func (t *VEDirectTransport) Open(_ context.Context) bool {
	port, err := serial.OpenPort(&serial.Config{
		Name:        t.config.Name,
		Baud:        t.config.Baud,
		ReadTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		return false
	}
	t.port = port
	t.reader = bufio.NewReader(port)
	return true
}

func (t *VEDirectTransport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

// ReadOne accumulates lines until a "Checksum\t..." line closes out one
// VE.Direct block, then returns it as an opaque pseudo-sentence
// (address "VEDIRECT", one field per line) so downstream consumers can
// forward or log the raw block without this router interpreting
// VE.Direct field semantics.
func (t *VEDirectTransport) ReadOne(_ context.Context) (message.Envelope, error) {
	var lines []string
	for {
		line, err := t.reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			if len(lines) == 0 {
				return message.Envelope{}, ErrReadError
			}
			break
		}
		if strings.HasPrefix(line, "Checksum") {
			break
		}
	}
	sentence := nmea0183.Sentence{Address: "VEDIRECT", Fields: lines}
	return message.FromSentence(sentence, time.Now()), nil
}

// Send always fails: VE.Direct couplers are read-only (spec's
// "direction read-only").
func (t *VEDirectTransport) Send(_ context.Context, _ message.Envelope) bool { return false }

var _ Transport = (*VEDirectTransport)(nil)
