// Package metrics instruments a store.Backend with Prometheus RED metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/itemstore/store"
)

const (
	namespace = "itemstore"
	subsystem = "backend"
)

// Outcome label values.
const (
	OutcomeSuccess         = "success"
	OutcomeConditionFailed = "condition_failed"
	OutcomeError           = "error"
)

// Backend is a store.Backend middleware recording calls, errors and durations.
type Backend struct {
	reqs *prometheus.CounterVec
	durs *prometheus.HistogramVec

	next store.Backend
}

var (
	_ store.Backend     = (*Backend)(nil)
	_ store.TableWaiter = (*Backend)(nil)
)

// NewBackend wraps next, registering its collectors with reg.
func NewBackend(reg prometheus.Registerer, next store.Backend) *Backend {
	reqs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "call_total",
		Help:      "Number of calls to the item store backend",
	}, []string{"method", "table", "outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "duration_seconds",
		Help:      "Duration of item store backend calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "table"})

	reg.MustRegister(reqs, durs)

	return &Backend{
		reqs: reqs,
		durs: durs,
		next: next,
	}
}

func (mw *Backend) GetItem(ctx context.Context, table string, key store.PK) (store.Record, error) {
	m := mw.record("get_item", table)
	rec, err := mw.next.GetItem(ctx, table, key)
	return rec, m(err)
}

func (mw *Backend) PutItem(ctx context.Context, table string, key store.PK, rec store.Record, cond *store.PutCondition) error {
	return mw.record("put_item", table)(mw.next.PutItem(ctx, table, key, rec, cond))
}

func (mw *Backend) UpdateItem(ctx context.Context, table string, key store.PK, update store.Update) (*store.UpdateResult, error) {
	m := mw.record("update_item", table)
	res, err := mw.next.UpdateItem(ctx, table, key, update)
	return res, m(err)
}

func (mw *Backend) DeleteItem(ctx context.Context, table string, key store.PK) error {
	return mw.record("delete_item", table)(mw.next.DeleteItem(ctx, table, key))
}

func (mw *Backend) Scan(ctx context.Context, table string, filter *store.Filter) ([]store.Record, error) {
	m := mw.record("scan", table)
	recs, err := mw.next.Scan(ctx, table, filter)
	return recs, m(err)
}

func (mw *Backend) Query(ctx context.Context, table string, query store.Query) ([]store.Record, error) {
	m := mw.record("query", table)
	recs, err := mw.next.Query(ctx, table, query)
	return recs, m(err)
}

// WaitForTable delegates when the wrapped backend can wait; otherwise it returns nil.
func (mw *Backend) WaitForTable(ctx context.Context, table string) error {
	w, ok := mw.next.(store.TableWaiter)
	if !ok {
		return nil
	}
	return mw.record("wait_for_table", table)(w.WaitForTable(ctx, table))
}

func (mw *Backend) record(method, table string) func(error) error {
	start := time.Now()
	return func(err error) error {
		mw.reqs.WithLabelValues(method, table, outcome(err)).Inc()
		mw.durs.WithLabelValues(method, table).Observe(time.Since(start).Seconds())
		return err
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, store.ErrConditionFailed):
		return OutcomeConditionFailed
	default:
		return OutcomeError
	}
}
