package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should be nanos.")
	}

	statp := stat.Precision(time.Millisecond).(*defaultStatsReceiver)
	if stat.precision != time.Nanosecond {
		t.Fatal("Default precision should still nanos.")
	}
	if statp.precision != time.Millisecond {
		t.Fatal("New stat precision should be millis.")
	}
}

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should be empty.")
	}

	statp := stat.Scope("a/b", "c").(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should still empty.")
	}
	if len(statp.scope) != 2 || statp.scope[0] != "a_SLASH_b" || statp.scope[1] != "c" {
		t.Fatal("Invalid scope value: ", statp.scope)
	}
	if statp.scopedName("d") != "a_SLASH_b/c/d" {
		t.Fatal("Invalid scope name: " + statp.scopedName("d"))
	}
}

func TestRegister(t *testing.T) {
	reg := NewFinagleStatsRegistry()
	if reg.GetOrRegister("counter", NewCounter()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gauge", NewGauge()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("histogram", NewHistogram()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("latency", NewLatency()) == nil {
		t.Fatal("Registry did not save instrument")
	}
}

func TestMarshal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	Time = clock
	defer func() { Time = clockwork.NewRealClock() }()

	reg := NewFinagleStatsRegistry()
	reg.GetOrRegister("counter", NewCounter()).(Counter).Inc(1)
	reg.GetOrRegister("gauge", NewGauge()).(Gauge).Update(2)

	l := reg.GetOrRegister("latency", NewLatency()).(Latency).Time()
	clock.Advance(5 * time.Nanosecond)
	l.Stop()
	l = reg.GetOrRegister("latency", NewLatency()).(Latency).Time()
	clock.Advance(10 * time.Nanosecond)
	l.Stop()

	bytes, err := reg.(MarshalerPretty).MarshalJSONPretty()
	require.NoError(t, err)
	expected :=
		`{
  "counter": 1,
  "gauge": 2,
  "latency.avg": 7.5,
  "latency.count": 2,
  "latency.max": 10,
  "latency.min": 5,
  "latency.p50": 7.5,
  "latency.p90": 10,
  "latency.p95": 10,
  "latency.p99": 10,
  "latency.p999": 10,
  "latency.p9999": 10,
  "latency.sum": 15
}`
	if string(bytes) != expected {
		t.Fatal("Wrong json marshal output: ", string(bytes))
	}
}

func TestRenderClearsHistograms(t *testing.T) {
	stat := NewCustomStatsReceiver(NewFinagleStatsRegistry)
	stat.Counter("counter").Inc(1)
	stat.Histogram("hist").Update(3)

	rendered := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(stat.Render(false), &rendered))
	assert.EqualValues(t, 1, rendered["counter"])
	assert.EqualValues(t, 1, rendered["hist.count"])

	rendered = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(stat.Render(false), &rendered))
	assert.EqualValues(t, 1, rendered["counter"], "counters survive a render")
	assert.EqualValues(t, 0, rendered["hist.count"], "histograms are cleared by a render")
}

func TestStatsOk(t *testing.T) {
	reg := NewFinagleStatsRegistry()
	stat := NewCustomStatsReceiver(func() StatsRegistry { return reg })
	stat.Scope("admission").Counter(ControllerSubmitCounter).Inc(2)
	stat.Gauge(ControllerQueuedQueriesGauge).Update(4)

	ok := StatsOk("", reg, t, map[string]Rule{
		"admission/" + ControllerSubmitCounter: {Checker: Int64EqTest, Value: 2},
		ControllerQueuedQueriesGauge:           {Checker: Int64GTTest, Value: 3},
		EnforcerKillCounter:                    {Checker: DoesNotExistTest},
	})
	assert.True(t, ok)
}

func TestNilStatsReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Scope("a").Counter("b").Inc(1)
	stat.Latency("c").Time().Stop()
	assert.Empty(t, stat.Render(true))
}

func TestUptimeReporting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	Time = clock
	defer func() { Time = clockwork.NewRealClock() }()

	reg := NewFinagleStatsRegistry()
	stat := NewCustomStatsReceiver(func() StatsRegistry { return reg })
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		StartUptimeReporting(stat, ControllerUptime_ms, time.Second, stopCh)
		close(doneCh)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		return stat.Gauge(ControllerUptime_ms).Value() == 1000
	}, time.Second, time.Millisecond)
	close(stopCh)
	<-doneCh
}
