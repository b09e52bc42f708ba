// Package metrics exposes the router's Prometheus counters and gauges:
// one set of per-coupler and per-publisher instruments, labeled by
// name, covering the same in/out/lost/state accounting the coupler and
// publisher packages already track internally.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	couplerMessagesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "n2k_router_coupler_messages_in_total",
		Help: "Messages successfully read by a coupler.",
	}, []string{"coupler"})

	couplerMessagesOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "n2k_router_coupler_messages_out_total",
		Help: "Messages successfully sent by a coupler.",
	}, []string{"coupler"})

	couplerReadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "n2k_router_coupler_read_errors_total",
		Help: "Read errors observed by a coupler.",
	}, []string{"coupler"})

	couplerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "n2k_router_coupler_state",
		Help: "Coupler lifecycle state (0=NOT_READY, 1=OPEN, 2=ACTIVE, 3=STOPPED).",
	}, []string{"coupler"})

	publisherQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "n2k_router_publisher_queue_depth",
		Help: "Current depth of a publisher's bounded queue.",
	}, []string{"publisher"})

	publisherLost = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "n2k_router_publisher_lost_messages",
		Help: "Current lost-message count for a publisher, reset on recovery.",
	}, []string{"publisher"})

	publisherOverflows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "n2k_router_publisher_overflows_total",
		Help: "Times a publisher exceeded max_lost and was evicted.",
	}, []string{"publisher"})
)

func init() {
	prometheus.MustRegister(couplerMessagesIn, couplerMessagesOut, couplerReadErrors, couplerState)
	prometheus.MustRegister(publisherQueueDepth, publisherLost, publisherOverflows)
}

// ObserveCouplerIn records one successfully read message.
func ObserveCouplerIn(name string) { couplerMessagesIn.WithLabelValues(name).Inc() }

// ObserveCouplerOut records one successfully sent message.
func ObserveCouplerOut(name string) { couplerMessagesOut.WithLabelValues(name).Inc() }

// ObserveCouplerReadError records one read error.
func ObserveCouplerReadError(name string) { couplerReadErrors.WithLabelValues(name).Inc() }

// SetCouplerState records a coupler's current lifecycle state (0..3,
// matching coupler.State's ordering).
func SetCouplerState(name string, state int) {
	couplerState.WithLabelValues(name).Set(float64(state))
}

// SetPublisherQueueDepth records a publisher's current queue depth.
func SetPublisherQueueDepth(name string, depth int) {
	publisherQueueDepth.WithLabelValues(name).Set(float64(depth))
}

// SetPublisherLost records a publisher's current lost-message count.
func SetPublisherLost(name string, lost int) {
	publisherLost.WithLabelValues(name).Set(float64(lost))
}

// ObservePublisherOverflow records one publisher eviction.
func ObservePublisherOverflow(name string) { publisherOverflows.WithLabelValues(name).Inc() }
