package store

import (
	"context"
	"time"

	"github.com/allisson/sirrvault/internal/metrics"
	"github.com/allisson/sirrvault/internal/vault/domain"
)

const metricsDomain = "vault"

// InstrumentedStore wraps a Store with operation-count and duration metrics,
// the same decorator shape used elsewhere in the stack to avoid threading
// metrics calls through every business method.
type InstrumentedStore struct {
	next    *Store
	metrics metrics.BusinessMetrics
}

// WithMetrics wraps s so every operation records BusinessMetrics.
func WithMetrics(s *Store, m metrics.BusinessMetrics) *InstrumentedStore {
	return &InstrumentedStore{next: s, metrics: m}
}

func (i *InstrumentedStore) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ctx := context.Background()
	i.metrics.RecordOperation(ctx, metricsDomain, operation, status)
	i.metrics.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

func (i *InstrumentedStore) Put(p PutParams) error {
	start := time.Now()
	err := i.next.Put(p)
	i.record("put", start, err)
	return err
}

func (i *InstrumentedStore) Get(key string) (GetResult, error) {
	start := time.Now()
	result, err := i.next.Get(key)
	i.record("get", start, err)
	return result, err
}

func (i *InstrumentedStore) Patch(key string, newValue []byte) error {
	start := time.Now()
	err := i.next.Patch(key, newValue)
	i.record("patch", start, err)
	return err
}

func (i *InstrumentedStore) Head(key string) (domain.Meta, error) {
	start := time.Now()
	meta, err := i.next.Head(key)
	i.record("head", start, err)
	return meta, err
}

func (i *InstrumentedStore) List() ([]domain.Meta, error) {
	start := time.Now()
	metas, err := i.next.List()
	i.record("list", start, err)
	return metas, err
}

func (i *InstrumentedStore) Delete(key string) (bool, error) {
	start := time.Now()
	deleted, err := i.next.Delete(key)
	i.record("delete", start, err)
	return deleted, err
}

func (i *InstrumentedStore) Prune() (int, error) {
	start := time.Now()
	pruned, err := i.next.Prune()
	i.record("prune", start, err)
	return pruned, err
}

