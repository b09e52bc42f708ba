package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tuna-marine/n2k-router/caninterface"
	"github.com/tuna-marine/n2k-router/canapp"
	"github.com/tuna-marine/n2k-router/config"
	"github.com/tuna-marine/n2k-router/coupler"
	"github.com/tuna-marine/n2k-router/devices"
	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/nmea0183"
	"github.com/tuna-marine/n2k-router/pgn"
	"github.com/tuna-marine/n2k-router/publisher"
	"github.com/tuna-marine/n2k-router/server"
	"github.com/tuna-marine/n2k-router/trace"
)

// buildCoupler constructs the Transport named by cs.Type and the
// generic Coupler driving it, plus (for a "can" coupler with
// Settings.Node configured) the CAN application and device registry
// that make it a node-participating bus member instead of a passive
// listener.
func (r *Router) buildCoupler(cs config.CouplerSettings) (*couplerEntry, error) {
	entry := &couplerEntry{settings: cs}

	var transport coupler.Transport
	direction := cs.Direction

	switch cs.Type {
	case "can":
		device := caninterface.NewDevice(caninterface.DeviceConfig{InterfaceName: cs.Device})
		entry.device = device
		transport = coupler.NewCANTransport(device, r.encoder)

		if r.settings.Node != nil {
			registry := devices.NewRegistry(32)
			entry.registry = registry
			entry.canApp = canapp.New(canapp.Config{
				Name:        nodeName(*r.settings.Node),
				AddressPool: r.settings.Node.AddressPool,
				ProductInfo: canapp.ProductInfo{
					ModelID:            r.settings.Node.ModelID,
					SoftwareVersion:    r.settings.Node.SoftwareVersion,
					ModelVersion:       r.settings.Node.ModelVersion,
					ModelSerialCode:    r.settings.Node.ModelSerialCode,
					CertificationLevel: r.settings.Node.CertificationLevel,
					LoadEquivalency:    r.settings.Node.LoadEquivalency,
					NMEA2000Version:    r.settings.Node.NMEA2000Version,
					ProductCode:        r.settings.Node.ProductCode,
				},
				ConfigurationInfo: devices.ConfigurationInfo{
					InstallationDesc1: r.settings.Node.InstallationDescription1,
					InstallationDesc2: r.settings.Node.InstallationDescription2,
					ManufacturerInfo:  r.settings.Node.ManufacturerInfo,
				},
				Registry: registry,
			}, device)
		}
	case "serial":
		transport = coupler.NewSerialTransport(coupler.SerialPortConfig{Name: cs.Device, Baud: cs.Baud})
	case "tcp":
		transport = coupler.NewNetTransport(coupler.NetConfig{Network: "tcp", Address: cs.Address})
	case "udp":
		transport = coupler.NewNetTransport(coupler.NetConfig{Network: "udp", Address: cs.Address})
	case "log_replay":
		transport = coupler.NewLogReplayTransport(coupler.LogReplayConfig{Path: cs.Path, RealTime: cs.RealTime})
		if direction == "" {
			direction = "read_only"
		}
	case "vedirect":
		transport = coupler.NewVEDirectTransport(coupler.VEDirectConfig{Name: cs.Device, Baud: cs.Baud})
		if direction == "" {
			direction = "read_only"
		}
	case "grpc":
		transport = coupler.NewGRPCSendCoupler(coupler.GRPCConfig{Address: cs.Address, Decoded: cs.Decoded})
		if direction == "" {
			direction = "write_only"
		}
	default:
		return nil, fmt.Errorf("router: coupler %s: unknown type %q", cs.Name, cs.Type)
	}

	var dir coupler.Direction
	switch direction {
	case "", "read_write":
		dir = coupler.DirectionReadWrite
	case "read_only":
		dir = coupler.DirectionReadOnly
	case "write_only":
		dir = coupler.DirectionWriteOnly
	default:
		return nil, fmt.Errorf("router: coupler %s: unknown direction %q", cs.Name, direction)
	}

	entry.coupler = coupler.New(coupler.Config{
		Name:            cs.Name,
		Direction:       dir,
		MaxOpenAttempts: cs.MaxOpenAttempts,
		OpenDelay:       cs.OpenDelay,
		ReportInterval:  cs.ReportInterval,
		ConvertNMEA0183: cs.ConvertNMEA0183,
		StrictNMEA0183:  cs.StrictNMEA0183,
		CANApp:          entry.canApp,
	}, transport)

	return entry, nil
}

// nodeName converts config.NodeSettings into the devices.NodeName the
// CAN application claims an address with.
func nodeName(n config.NodeSettings) devices.NodeName {
	return devices.NodeName{
		UniqueNumber:            n.UniqueNumber & 0x1FFFFF,
		Manufacturer:            n.Manufacturer & 0x7FF,
		DeviceFunction:          n.DeviceFunction,
		DeviceClass:             n.DeviceClass & 0x7F,
		IndustryGroup:           n.IndustryGroup & 0x7,
		ArbitraryAddressCapable: 1,
	}
}

// buildServer constructs the TCPServer or GRPCServer named by
// ss.Type, wiring its optional inbound "master client" channel to the
// named coupler's Send.
func (r *Router) buildServer(ss config.ServerSettings) (serverHandle, error) {
	switch ss.Type {
	case "tcp":
		srv := server.New(server.TCPConfig{
			Name:    ss.Name,
			Address: ss.Address,
			Inject:  r.masterInjectLine(ss.MasterCoupler),
		})
		r.tcpServers[ss.Name] = srv
		return srv, nil
	case "grpc":
		srv := server.NewGRPCServer(server.GRPCConfig{
			Name:          ss.Name,
			Address:       ss.Address,
			Inject:        r.masterInjectLine(ss.MasterCoupler),
			InjectDecoded: r.masterInjectEnvelope(ss.MasterCoupler),
			Decoder:       r.decoder,
		})
		r.grpcServers[ss.Name] = srv
		return srv, nil
	default:
		return nil, fmt.Errorf("router: server %s: unknown type %q", ss.Name, ss.Type)
	}
}

func (r *Router) masterInjectLine(couplerName string) func(string) {
	if couplerName == "" {
		return nil
	}
	return func(line string) {
		sentence, err := nmea0183.Parse(line)
		if err != nil {
			log.Printf("router: master client line %q: %v", line, err)
			return
		}
		r.injectInto(couplerName, message.FromSentence(sentence, time.Now()))
	}
}

func (r *Router) masterInjectEnvelope(couplerName string) func(message.Envelope) {
	if couplerName == "" {
		return nil
	}
	return func(env message.Envelope) {
		r.injectInto(couplerName, env)
	}
}

func (r *Router) injectInto(couplerName string, env message.Envelope) {
	r.mu.Lock()
	entry, ok := r.couplers[couplerName]
	r.mu.Unlock()
	if !ok {
		log.Printf("router: inject: no such coupler %q", couplerName)
		return
	}
	entry.coupler.Send(context.Background(), env)
}

// buildPublisher constructs a publisher.Publisher's FilterSet and
// ProcessMsg sink from one PublisherSettings entry.
func (r *Router) buildPublisher(ps config.PublisherSettings) (*publisher.Publisher, error) {
	filters := make([]publisher.Filter, 0, len(ps.Filters))
	for _, fs := range ps.Filters {
		f := publisher.Filter{MinInterval: fs.MinInterval}
		switch fs.Action {
		case "select":
			f.Action = publisher.Select
		case "discard":
			f.Action = publisher.Discard
		default:
			return nil, fmt.Errorf("router: publisher %s: unknown filter action %q", ps.Name, fs.Action)
		}
		if len(fs.PGNs) > 0 {
			f.PGNs = make(map[uint32]struct{}, len(fs.PGNs))
			for _, p := range fs.PGNs {
				f.PGNs[p] = struct{}{}
			}
		}
		if len(fs.Sources) > 0 {
			f.Sources = make(map[uint8]struct{}, len(fs.Sources))
			for _, s := range fs.Sources {
				f.Sources[s] = struct{}{}
			}
		}
		filters = append(filters, f)
	}

	processMsg, err := r.buildSink(ps)
	if err != nil {
		return nil, err
	}

	pub := publisher.New(publisher.Config{
		Name:              ps.Name,
		QueueSize:         ps.QueueSize,
		MaxLost:           ps.MaxLost,
		SuspendOnOverflow: ps.SuspendOnOverflow,
		Filter:            publisher.NewFilterSet(ps.FilterSelect, filters...),
		ProcessMsg:        processMsg,
	})

	if ps.SuspendOnOverflow {
		pub.Suspend = r.suspendCouplers(ps.Couplers)
		pub.Resume = r.resumeCouplers(ps.Couplers)
	}

	return pub, nil
}

// buildSink resolves a publisher's external effect: append to a trace
// file, hand off to a named TCP/gRPC server's ProcessMsg, or inject
// into another named coupler.
func (r *Router) buildSink(ps config.PublisherSettings) (func(message.Envelope), error) {
	switch ps.Sink {
	case "trace":
		w, err := trace.Open(ps.TracePath)
		if err != nil {
			return nil, fmt.Errorf("router: publisher %s: %w", ps.Name, err)
		}
		r.closers = append(r.closers, w)
		return func(env message.Envelope) {
			line, err := traceLine(env, r.encoder)
			if err != nil {
				return
			}
			_ = w.Write(line)
		}, nil
	case "tcp_server":
		srv, ok := r.tcpServers[ps.SinkTarget]
		if !ok {
			return nil, fmt.Errorf("router: publisher %s: no such tcp server %q", ps.Name, ps.SinkTarget)
		}
		return srv.ProcessMsg, nil
	case "grpc_server":
		srv, ok := r.grpcServers[ps.SinkTarget]
		if !ok {
			return nil, fmt.Errorf("router: publisher %s: no such grpc server %q", ps.Name, ps.SinkTarget)
		}
		return srv.ProcessMsg, nil
	case "coupler":
		target := ps.SinkTarget
		return func(env message.Envelope) {
			r.injectInto(target, env)
		}, nil
	default:
		return nil, fmt.Errorf("router: publisher %s: unknown sink %q", ps.Name, ps.Sink)
	}
}

// traceLine renders one envelope as a human-readable trace record: the
// NMEA-0183 sentence verbatim, or the canboat CSV line for an
// NMEA-2000 message (spec §6 trace format; enc resolves a decoded
// envelope back to its raw wire form when one was given).
func traceLine(env message.Envelope, enc *pgn.Encoder) (string, error) {
	if env.Kind == message.KindNMEA0183 {
		return nmea0183.Format('$', env.Sentence.Address, env.Sentence.Fields), nil
	}
	raw, err := env.ToRaw(enc)
	if err != nil {
		return "", err
	}
	line, err := pgn.MarshalRawMessage(raw)
	return string(line), err
}

// suspendCouplers returns a publisher.SuspendFunc that suspends every
// named coupler (spec §4.9 "suspend all upstream couplers until
// drained").
func (r *Router) suspendCouplers(names []string) publisher.SuspendFunc {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, name := range names {
			if entry, ok := r.couplers[name]; ok {
				entry.coupler.Suspend()
			}
		}
	}
}

func (r *Router) resumeCouplers(names []string) publisher.SuspendFunc {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, name := range names {
			if entry, ok := r.couplers[name]; ok {
				entry.coupler.Resume()
			}
		}
	}
}
