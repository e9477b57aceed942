package multiagent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsight/internal/domain"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	qa := NewRunner[domain.QAInput](NewQAAgent(nil), nil)
	require.NoError(t, r.Register(qa))

	got, err := r.Get("QAAgent")
	require.NoError(t, err)
	assert.Same(t, qa, got)

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewRunner[domain.QAInput](NewQAAgent(nil), nil)))

	err := r.Register(NewRunner[domain.QAInput](NewQAAgent(nil), nil))
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidInput, domain.ErrorCodeOf(err))
}

func TestRegistry_MetricsSortedAndReset(t *testing.T) {
	r := NewRegistry(nil)
	qa := NewRunner[domain.QAInput](NewQAAgent(nil), nil)
	routing := NewRunner[domain.RoutingInput](NewRoutingAgent(nil), nil)
	require.NoError(t, r.Register(routing))
	require.NoError(t, r.Register(qa))

	qa.Execute(context.Background(), domain.QAInput{Query: "What is an infiltrate?"})
	routing.Execute(context.Background(), domain.RoutingInput{Query: "hello"})
	routing.Execute(context.Background(), domain.RoutingInput{})

	m := r.Metrics()
	require.Len(t, m, 2)
	assert.Equal(t, "QAAgent", m[0].AgentName)
	assert.Equal(t, "RoutingAgent", m[1].AgentName)
	assert.Equal(t, 1, m[0].TotalRequests)
	assert.Equal(t, 2, m[1].TotalRequests)
	assert.Equal(t, 1, m[1].FailedRequests)

	r.ResetAll()
	for _, am := range r.Metrics() {
		assert.Zero(t, am.TotalRequests)
	}
}
