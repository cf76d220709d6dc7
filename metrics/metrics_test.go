package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterSaturates(t *testing.T) {
	var c Counter
	c.Add(math.MaxUint32 - 1)
	c.Add(10)
	assert.Equal(t, float64(math.MaxUint32), c.Value())
}

func TestCollectorExposesAllCounters(t *testing.T) {
	stats := &Stats{}
	stats.LcsLost.Add(3)
	stats.LcsRetry.Add(7)

	coll := NewCollector("lon", stats)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(coll))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			values[f.GetName()] = m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(3), values["lon_lcs_lost_total"])
	assert.Equal(t, float64(7), values["lon_lcs_retry_total"])
}
