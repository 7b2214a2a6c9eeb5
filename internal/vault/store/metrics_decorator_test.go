package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	operations []string
}

func (r *recordingMetrics) RecordOperation(_ context.Context, domain, operation, status string) {
	r.operations = append(r.operations, domain+":"+operation+":"+status)
}

func (r *recordingMetrics) RecordDuration(_ context.Context, domain, operation string, _ time.Duration, status string) {
}

func TestInstrumentedStore_RecordsOperations(t *testing.T) {
	s, _ := newTestStore(t, nil)
	m := &recordingMetrics{}
	instrumented := WithMetrics(s, m)

	require.NoError(t, instrumented.Put(PutParams{Key: "A", Value: []byte("v")}))
	_, err := instrumented.Get("A")
	require.NoError(t, err)

	_, err = instrumented.Get("missing")
	assert.Error(t, err)

	assert.Contains(t, m.operations, "vault:put:success")
	assert.Contains(t, m.operations, "vault:get:success")
	assert.Contains(t, m.operations, "vault:get:error")

	var engine Engine = instrumented
	_, _ = engine.List()
}
