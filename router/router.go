// Package router implements the router top-level (spec §4.10 / C10):
// it owns every coupler, publisher, and server built from a config.
// Settings document, wires a coupler's fan-out to the publishers
// attached to it, and orchestrates the start/stop order spec §4.10
// names: finalize services, start publishers, start servers,
// request-start couplers.
package router

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tuna-marine/n2k-router/caninterface"
	"github.com/tuna-marine/n2k-router/canapp"
	"github.com/tuna-marine/n2k-router/config"
	"github.com/tuna-marine/n2k-router/coupler"
	"github.com/tuna-marine/n2k-router/devices"
	"github.com/tuna-marine/n2k-router/message"
	"github.com/tuna-marine/n2k-router/metrics"
	"github.com/tuna-marine/n2k-router/pgn"
	"github.com/tuna-marine/n2k-router/publisher"
	"github.com/tuna-marine/n2k-router/server"
)

// couplerEntry bundles a running Coupler with the router-owned pieces
// (CAN device/app/registry, attached publishers) a fresh re-instantiated
// instance needs to be rebuilt identically from settings.
type couplerEntry struct {
	settings config.CouplerSettings
	coupler  *coupler.Coupler

	device   *caninterface.Device // non-nil only for type "can"
	canApp   *canapp.App          // non-nil only when Settings.Node is set
	registry *devices.Registry

	publishers []*publisher.Publisher
}

// serverHandle is the common surface both server.TCPServer and
// server.GRPCServer already implement.
type serverHandle interface {
	Listen() error
	Run(ctx context.Context)
	Stop()
	Wait()
}

// Router owns the couplers, publishers, and servers built from one
// config.Settings document (spec §4.10).
type Router struct {
	settings config.Settings

	decoder *pgn.Decoder
	encoder *pgn.Encoder

	mu         sync.Mutex
	couplers   map[string]*couplerEntry
	publishers map[string]*publisher.Publisher
	servers    []serverHandle

	tcpServers  map[string]*server.TCPServer
	grpcServers map[string]*server.GRPCServer

	closers       []io.Closer
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds every coupler, publisher, and server named in settings,
// wiring their fan-out, but starts nothing. Call Start to run it.
func New(settings config.Settings) (*Router, error) {
	r := &Router{
		settings:    settings,
		couplers:    make(map[string]*couplerEntry),
		publishers:  make(map[string]*publisher.Publisher),
		tcpServers:  make(map[string]*server.TCPServer),
		grpcServers: make(map[string]*server.GRPCServer),
		stopped:     make(chan struct{}),
	}

	if settings.SchemaPath != "" {
		schema, err := pgn.LoadSchema(os.DirFS("."), settings.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("router: loading schema: %w", err)
		}
		registry, err := pgn.NewRegistry(schema)
		if err != nil {
			return nil, fmt.Errorf("router: building registry: %w", err)
		}
		r.decoder = pgn.NewDecoder(registry)
		r.encoder = pgn.NewEncoder(registry)
	}

	for _, cs := range settings.Couplers {
		entry, err := r.buildCoupler(cs)
		if err != nil {
			return nil, err
		}
		r.couplers[cs.Name] = entry
	}

	for _, ss := range settings.Servers {
		srv, err := r.buildServer(ss)
		if err != nil {
			return nil, err
		}
		r.servers = append(r.servers, srv)
	}

	for _, ps := range settings.Publishers {
		pub, err := r.buildPublisher(ps)
		if err != nil {
			return nil, err
		}
		r.publishers[ps.Name] = pub
		for _, name := range ps.Couplers {
			entry, ok := r.couplers[name]
			if !ok {
				return nil, fmt.Errorf("router: publisher %s: no such coupler %q", ps.Name, name)
			}
			entry.publishers = append(entry.publishers, pub)
		}
	}

	for _, entry := range r.couplers {
		entry.coupler.Publish = r.fanOut(entry)
	}

	if settings.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		r.metricsServer = &http.Server{Addr: settings.MetricsAddress, Handler: mux}
	}

	return r, nil
}

// fanOut is the coupler.Coupler.Publish callback for one coupler: it
// updates the device registry (if this is a CAN coupler), then applies
// every attached publisher's FilterSet and enqueues.
func (r *Router) fanOut(entry *couplerEntry) func(message.Envelope) {
	return func(env message.Envelope) {
		metrics.ObserveCouplerIn(entry.settings.Name)

		if entry.registry != nil {
			if raw, err := env.ToRaw(r.encoder); err == nil {
				_, _ = entry.registry.Process(raw)
			}
		}

		r.mu.Lock()
		pubs := append([]*publisher.Publisher(nil), entry.publishers...)
		r.mu.Unlock()

		for _, pub := range pubs {
			if err := pub.Publish(env); err != nil {
				log.Printf("router: publisher %s: %v, evicting", pub.Name(), err)
				r.evictPublisher(pub)
			}
			metrics.SetPublisherLost(pub.Name(), pub.Lost())
		}
	}
}

// evictPublisher implements the PublisherOverflow policy (spec §7):
// stop the offending publisher and detach it from every coupler's
// fan-out so later messages are simply not delivered to it.
func (r *Router) evictPublisher(pub *publisher.Publisher) {
	metrics.ObservePublisherOverflow(pub.Name())
	pub.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.publishers, pub.Name())
	for _, entry := range r.couplers {
		for i, p := range entry.publishers {
			if p == pub {
				entry.publishers = append(entry.publishers[:i], entry.publishers[i+1:]...)
				break
			}
		}
	}
}

// Start brings the router up in spec §4.10's order: finalize services
// (listen every server), start publishers, start servers, request-start
// every coupler.
func (r *Router) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.ctx = ctx
	r.cancel = cancel

	for _, srv := range r.servers {
		if err := srv.Listen(); err != nil {
			cancel()
			return fmt.Errorf("router: %w", err)
		}
	}

	r.mu.Lock()
	pubs := make([]*publisher.Publisher, 0, len(r.publishers))
	for _, pub := range r.publishers {
		pubs = append(pubs, pub)
	}
	r.mu.Unlock()
	for _, pub := range pubs {
		pub := pub
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			pub.Run(ctx)
		}()
	}

	for _, srv := range r.servers {
		srv := srv
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			srv.Run(ctx)
		}()
	}

	if r.metricsServer != nil {
		go func() {
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("router: metrics server: %v", err)
			}
		}()
	}

	r.mu.Lock()
	entries := make([]*couplerEntry, 0, len(r.couplers))
	for _, entry := range r.couplers {
		entries = append(entries, entry)
	}
	r.mu.Unlock()
	for _, entry := range entries {
		r.startCouplerEntry(ctx, entry)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.monitorMetrics(ctx)
	}()

	return nil
}

// startCouplerEntry launches the coupler's read loop, its CAN
// application supervisor (if this is a node-participating CAN
// coupler), and its device-registry ISO-request drain.
func (r *Router) startCouplerEntry(ctx context.Context, entry *couplerEntry) {
	if entry.canApp != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.runCANApp(ctx, entry)
		}()
	}
	if entry.registry != nil && entry.device != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.drainDeviceRequests(ctx, entry)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := entry.coupler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("router: coupler %s: %v", entry.settings.Name, err)
		}
	}()
}

// runCANApp drives one CAN coupler's address-claim state machine
// (spec §4.6): claim on Start, then repeatedly re-arm the 250ms claim
// window so a conflict that knocks the app back into ADDRESS_CLAIM
// (canapp.App has no state-change channel of its own) gets re-awaited,
// gating the device's ordinary writes on the outcome.
func (r *Router) runCANApp(ctx context.Context, entry *couplerEntry) {
	if err := entry.canApp.Start(ctx); err != nil {
		log.Printf("router: coupler %s: canapp start: %v", entry.settings.Name, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := entry.canApp.AwaitClaimWindow(ctx); err != nil {
			return
		}
		switch entry.canApp.State() {
		case canapp.StateActive:
			entry.device.AddLocalAddress(entry.canApp.Address())
			entry.device.SetAddressClaimed(true)
		case canapp.StateHalted:
			log.Printf("router: coupler %s: address pool exhausted, node halted", entry.settings.Name)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// drainDeviceRequests forwards the device registry's outgoing ISO
// requests (spec §4.7: "issues ISO requests for PGN 126996 and 126998
// to populate" an unknown node's entry) onto the CAN device.
func (r *Router) drainDeviceRequests(ctx context.Context, entry *couplerEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-entry.registry.Requests():
			if !ok {
				return
			}
			_ = entry.device.WriteRawMessage(ctx, msg)
		}
	}
}

// monitorMetrics periodically mirrors coupler/publisher state into the
// metrics package's Prometheus instruments.
func (r *Router) monitorMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			entries := make([]*couplerEntry, 0, len(r.couplers))
			for _, entry := range r.couplers {
				entries = append(entries, entry)
			}
			r.mu.Unlock()
			for _, entry := range entries {
				metrics.SetCouplerState(entry.settings.Name, int(entry.coupler.State()))
			}
		}
	}
}

// StartCoupler implements the runtime `start_coupler(name)` command
// (spec §4.10): if the coupler already ran and stopped, it is detached
// from every publisher and replaced with a fresh instance built from
// the same declarative settings; otherwise this is a no-op (Start
// already requested it).
func (r *Router) StartCoupler(name string) error {
	r.mu.Lock()
	entry, ok := r.couplers[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("router: no such coupler %q", name)
	}
	if entry.coupler.State() != coupler.StateStopped {
		return nil
	}

	fresh, err := r.buildCoupler(entry.settings)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, ps := range r.settings.Publishers {
		if !containsString(ps.Couplers, name) {
			continue
		}
		if pub, ok := r.publishers[ps.Name]; ok {
			fresh.publishers = append(fresh.publishers, pub)
		}
	}
	fresh.coupler.Publish = r.fanOut(fresh)
	r.couplers[name] = fresh
	ctx := r.ctx
	r.mu.Unlock()

	r.startCouplerEntry(ctx, fresh)
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Stop is a single-shot latch: it stops every coupler, publisher, and
// server, cancels the shared context, waits for every worker this
// router started, and closes publisher sinks (trace files).
func (r *Router) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		couplers := make([]*couplerEntry, 0, len(r.couplers))
		for _, entry := range r.couplers {
			couplers = append(couplers, entry)
		}
		pubs := make([]*publisher.Publisher, 0, len(r.publishers))
		for _, pub := range r.publishers {
			pubs = append(pubs, pub)
		}
		r.mu.Unlock()

		for _, entry := range couplers {
			entry.coupler.Stop()
		}
		for _, pub := range pubs {
			pub.Stop()
		}
		for _, srv := range r.servers {
			srv.Stop()
		}
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()

		for _, c := range r.closers {
			_ = c.Close()
		}
		if r.metricsServer != nil {
			_ = r.metricsServer.Close()
		}
		close(r.stopped)
	})
}

// Wait blocks until Stop has fully completed.
func (r *Router) Wait() { <-r.stopped }

// RunUntilSignal blocks until SIGINT/SIGTERM, then runs spec §4.10's
// two-stage shutdown: the first signal triggers an orderly Stop, a
// second signal before it completes forces an immediate exit.
func (r *Router) RunUntilSignal() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	go r.Stop()
	select {
	case <-r.stopped:
	case <-sigCh:
		log.Printf("router: second signal received, forcing exit")
		os.Exit(1)
	}
}
