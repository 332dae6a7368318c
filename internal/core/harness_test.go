package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"SettleLedger/internal/core"
	"SettleLedger/internal/event"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ms returns a message timestamp offset from fixedNow.
func ms(offset time.Duration) int64 {
	return fixedNow.Add(offset).UnixMilli()
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []core.Alert
}

func (r *recordingAlerts) Publish(_ context.Context, a core.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerts) All() []core.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Alert(nil), r.alerts...)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *persistence.MemoryStore
	alerts  *recordingAlerts
	metrics *observability.Metrics
	logs    *bytes.Buffer
	now     time.Time
	d       *core.Dispatcher
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore builds a dispatcher over a fresh MemoryStore. wrap,
// when set, decorates the store the dispatcher sees.
func newHarnessWithStore(t *testing.T, wrap func(*persistence.MemoryStore) persistence.Store) *harness {
	t.Helper()
	logger, buf := testutil.LogBuffer()
	mem := persistence.NewMemoryStore()
	var store persistence.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   mem,
		alerts:  &recordingAlerts{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		logs:    buf,
		now:     fixedNow,
	}
	h.d = core.NewDispatcher(core.Options{
		Store:   store,
		Alerts:  h.alerts,
		Metrics: h.metrics,
		Logger:  logger,
		Now:     func() time.Time { return h.now },
	})
	return h
}

// dispatch sends a success envelope for op with obj as its object.
func (h *harness) dispatch(op string, actionID string, obj any) error {
	h.t.Helper()
	return h.d.Dispatch(h.ctx, envelope(h.t, op, actionID, true, obj))
}

// tick advances the handler clock.
func (h *harness) tick(d time.Duration) {
	h.now = h.now.Add(d)
}

func envelope(t *testing.T, op, actionID string, success bool, obj any) *event.Envelope {
	t.Helper()
	env := &event.Envelope{OperationType: op, ActionID: event.FlexID(actionID), IsSuccess: success}
	if obj != nil {
		raw, err := json.Marshal(obj)
		require.NoError(t, err)
		env.Object = raw
	}
	return env
}

func (h *harness) view(fn func(tx persistence.Tx)) {
	h.t.Helper()
	require.NoError(h.t, h.store.View(h.ctx, func(tx persistence.Tx) error {
		fn(tx)
		return nil
	}))
}
