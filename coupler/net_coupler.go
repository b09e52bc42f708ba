package coupler

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
)

// NetConfig dials a TCP or UDP NMEA-0183 feed (spec §1/§6: "TCP/UDP
// NMEA feeds").
type NetConfig struct {
	Network string // "tcp" or "udp"
	Address string

	DialTimeout time.Duration
}

func (c NetConfig) withDefaults() NetConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// NetTransport reads line-delimited NMEA-0183 sentences off a TCP or
// UDP connection.
type NetTransport struct {
	config NetConfig
	conn   net.Conn
	reader *bufio.Reader
}

// NewNetTransport creates a transport that dials on the first Open
// call.
func NewNetTransport(config NetConfig) *NetTransport {
	return &NetTransport{config: config.withDefaults()}
}

func (t *NetTransport) Open(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: t.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, t.config.Network, t.config.Address)
	if err != nil {
		return false
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return true
}

func (t *NetTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *NetTransport) ReadOne(_ context.Context) (message.Envelope, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if line == "" {
			return message.Envelope{}, ErrReadError
		}
		// fall through: process whatever was read before the error
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return message.Envelope{}, ErrNotPresent
	}

	now := time.Now()
	s, perr := nmea0183.Parse(line)
	if perr != nil {
		return message.Envelope{}, ErrNotPresent
	}
	return message.FromSentence(s, now), nil
}

func (t *NetTransport) Send(_ context.Context, env message.Envelope) bool {
	if env.Kind != message.KindNMEA0183 {
		return false
	}
	rendered := nmea0183.Format('$', env.Sentence.Address, env.Sentence.Fields)
	_, err := t.conn.Write([]byte(rendered + "\r\n"))
	return err == nil
}

var _ Transport = (*NetTransport)(nil)
