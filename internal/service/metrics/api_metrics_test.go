package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAPIMetricsReuseRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewAPI(reg)
	b := NewAPI(reg)

	a.Error("detect", "ERR_INVALID_INPUT")
	b.Error("detect", "ERR_INVALID_INPUT")
	a.StreamOpened()
	b.StreamOpened()
	a.StreamClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.errors.WithLabelValues("detect", "ERR_INVALID_INPUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.streams))
}
