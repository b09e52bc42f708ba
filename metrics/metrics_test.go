package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCouplerIn_incrementsLabeledCounter(t *testing.T) {
	ObserveCouplerIn("test-coupler")
	ObserveCouplerIn("test-coupler")

	count := testutil.ToFloat64(couplerMessagesIn.WithLabelValues("test-coupler"))
	assert.GreaterOrEqual(t, count, 2.0)
}

func TestSetPublisherQueueDepth_setsGauge(t *testing.T) {
	SetPublisherQueueDepth("test-pub", 7)
	v := testutil.ToFloat64(publisherQueueDepth.WithLabelValues("test-pub"))
	assert.Equal(t, 7.0, v)
}
