package connections

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/amineamaach/edgeTranslator-SpB/internal/config"
	"github.com/amineamaach/edgeTranslator-SpB/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyEntry() config.ConnectionEntry {
	return config.ConnectionEntry{}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func readableMetric(name, addr string) *model.Metric {
	m := model.NewMetric(name, model.DataTypeDouble, nil)
	m.Properties.Method = "GET"
	m.Properties.Address = addr
	return m
}

func TestReadableAddresses(t *testing.T) {
	w := model.NewMetric("w", model.DataTypeDouble, nil)
	w.Properties.Method = "POST"
	w.Properties.Address = "write-only"

	addrs := readableAddresses([]*model.Metric{
		readableMetric("a", "x"),
		readableMetric("b", "x"),
		readableMetric("c", "y"),
		w,
	})
	assert.Equal(t, []string{"x", "y"}, addrs)
}

func TestBasePollingSubscription(t *testing.T) {
	b := newBase(testLogger())
	var reads atomic.Int32

	done := make(chan error, 1)
	b.startPolling("dev", 10*time.Millisecond, func() { reads.Add(1) }, func(err error) { done <- err })
	require.NoError(t, <-done)

	assert.Eventually(t, func() bool { return reads.Load() >= 3 }, time.Second, 5*time.Millisecond)

	b.stopPolling("dev", func(err error) { done <- err })
	require.NoError(t, <-done)
	stopped := reads.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, reads.Load(), stopped+1)
}

func TestBasePollingReplacesPreviousSubscription(t *testing.T) {
	b := newBase(testLogger())
	var first, second atomic.Int32

	b.startPolling("dev", 5*time.Millisecond, func() { first.Add(1) }, func(error) {})
	b.startPolling("dev", 5*time.Millisecond, func() { second.Add(1) }, func(error) {})

	assert.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)
	count := first.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, first.Load(), count+1, "first subscription stops after replacement")

	b.stopAllPolling()
}

func TestEmitDropOldestOnOverflow(t *testing.T) {
	b := newBase(testLogger())
	for i := 0; i < eventQueueSize; i++ {
		b.emitData(map[string]any{"a": i}, true)
	}
	// Queue is full; the next emit drops the oldest event.
	b.emitData(map[string]any{"a": "latest"}, true)

	first := <-b.events
	assert.Equal(t, 1, first.Obj["a"], "oldest event was dropped")

	var last Event
	for len(b.events) > 0 {
		last = <-b.events
	}
	assert.Equal(t, "latest", last.Obj["a"])
}

func TestMarkOpenCloseIdempotent(t *testing.T) {
	b := newBase(testLogger())
	assert.True(t, b.markOpen())
	assert.False(t, b.markOpen())
	assert.True(t, b.isOpen())
	assert.True(t, b.markClosed())
	assert.False(t, b.markClosed())
	assert.False(t, b.isOpen())
}

func TestParseS7Address(t *testing.T) {
	cases := []struct {
		addr string
		want s7Item
	}{
		{"DB1,X0.0", s7Item{area: 'D', db: 1, kind: "X", start: 0, bit: 0}},
		{"DB5,X2.7", s7Item{area: 'D', db: 5, kind: "X", start: 2, bit: 7}},
		{"DB1,B2", s7Item{area: 'D', db: 1, kind: "B", start: 2}},
		{"DB1,W4", s7Item{area: 'D', db: 1, kind: "W", start: 4}},
		{"DB1,I6", s7Item{area: 'D', db: 1, kind: "I", start: 6}},
		{"DB2,DW8", s7Item{area: 'D', db: 2, kind: "DW", start: 8}},
		{"DB2,DI12", s7Item{area: 'D', db: 2, kind: "DI", start: 12}},
		{"DB2,R16", s7Item{area: 'D', db: 2, kind: "R", start: 16}},
		{"DB3,S20.10", s7Item{area: 'D', db: 3, kind: "S", start: 20, length: 10}},
		{"I0.0", s7Item{area: 'I', kind: "X", start: 0, bit: 0}},
		{"E0.1", s7Item{area: 'I', kind: "X", start: 0, bit: 1}},
		{"Q1.2", s7Item{area: 'Q', kind: "X", start: 1, bit: 2}},
		{"MW10", s7Item{area: 'M', kind: "W", start: 10}},
	}
	for _, tc := range cases {
		it, err := parseS7Address(tc.addr)
		require.NoError(t, err, tc.addr)
		assert.Equal(t, tc.want, it, tc.addr)
	}

	for _, bad := range []string{"", "DB1", "DB1,Z0", "DBx,W0", "X0.9", "DB1,X1"} {
		_, err := parseS7Address(bad)
		assert.Error(t, err, bad)
	}
}

func TestS7DecodeEncodeItem(t *testing.T) {
	word, err := parseS7Address("DB1,W0")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), decodeItem(word, []byte{0x01, 0x02}))

	real, err := parseS7Address("DB1,R0")
	require.NoError(t, err)
	buf, err := encodeItem(real, float32(12.5), 0)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), decodeItem(real, buf))

	bit, err := parseS7Address("DB1,X0.3")
	require.NoError(t, err)
	buf, err = encodeItem(bit, true, 0x01)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09}, buf, "bit write preserves the rest of the byte")
	assert.Equal(t, true, decodeItem(bit, buf))
}

func TestRegistryRejectsMissingDetails(t *testing.T) {
	for connType, factory := range Registry {
		_, err := factory.New(emptyEntry(), testLogger())
		assert.ErrorIs(t, err, ErrMissingDetails, connType)
		assert.NotEmpty(t, factory.DetailsKey, connType)
	}
}
