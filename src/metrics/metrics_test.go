package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SetOnlineUsers(3)
	m.AuthFailed()
	m.MessageRelayed()
	m.MessageRelayed()
	m.FrameDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("active")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.online))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFail))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must fail loudly")
}
