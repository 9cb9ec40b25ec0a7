package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lendcore/core/events"
)

func TestObserveOperationLabelsSentinels(t *testing.T) {
	m := Lending()
	sentinel := errors.New("lending: market paused")
	m.ObserveOperation("mkt-test", "borrow", nil, time.Millisecond)
	m.ObserveOperation("mkt-test", "borrow", sentinel, time.Millisecond, sentinel)
	m.ObserveOperation("mkt-test", "borrow", errors.New("boom"), time.Millisecond, sentinel)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("mkt-test", "borrow", "ok")); got != 1 {
		t.Fatalf("ok count = %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("mkt-test", "borrow", sentinel.Error())); got != 1 {
		t.Fatalf("sentinel count = %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("mkt-test", "borrow", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
}

func TestEventCounterGroupsFamilies(t *testing.T) {
	m := Events()
	var emitter events.Emitter = m
	emitter.Emit(events.RegistrySwapperUpdated{})
	m.Record("")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("registry", events.TypeRegistrySwapperUpdated)); got != 1 {
		t.Fatalf("registry events = %v", got)
	}
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("unknown events = %v", got)
	}
}

func TestNilRegistriesAreSafe(t *testing.T) {
	var l *LendingMetrics
	l.ObserveOperation("m", "op", nil, 0)
	l.RecordOracleFailure("m")
	var h *HTTPMetrics
	h.Observe("/", "GET", 200, 0)
	var k *KeeperMetrics
	k.ObserveRun("job", nil, 0)
	var e *EventMetrics
	e.Record("x")
}
