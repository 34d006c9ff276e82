package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/admission/admission/config"
	"github.com/twitter/admission/admission/domain"
)

const testConfig = `{
	"Cluster": {"Type": "memory", "Nodes": ["a", "b"], "TeardownDelay": "1ms"},
	"Controller": {"TickRate": "5ms"},
	"Thresholds": {"MaxQueryRunningTaskCount": 50},
	"Api": {"HttpAddr": "localhost:0", "GrpcAddr": ""}
}`

func makeTestClient(t *testing.T) *Client {
	system, err := config.DefaultParser().Create([]byte(testConfig), nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(system.Api.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		system.Stop(ctx)
	})
	return NewClient(ts.URL, nil)
}

func TestClientLifecycle(t *testing.T) {
	c := makeTestClient(t)
	ctx := context.Background()

	id, err := c.Submit(ctx, domain.QueryDefinition{Query: "select 1\n-- sim hang", Group: "cli"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		info, err := c.Get(ctx, id)
		return err == nil && info.State == domain.Running
	}, 10*time.Second, 5*time.Millisecond)

	running, err := c.List(ctx, "RUNNING")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, id, running[0].ID)
	assert.Equal(t, "cli", running[0].Definition.Group)

	queued, err := c.List(ctx, "QUEUED")
	require.NoError(t, err)
	assert.Empty(t, queued)

	require.NoError(t, c.Cancel(ctx, id))
	err = c.Cancel(ctx, id)
	assert.Equal(t, domain.ErrInvalidTransition, errors.Cause(err), "%v", err)

	info, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, info.State)
	assert.Nil(t, info.ErrorCode)
}

func TestClientErrors(t *testing.T) {
	c := makeTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.Equal(t, domain.ErrQueryNotFound, errors.Cause(err), "%v", err)

	_, err = c.Submit(ctx, domain.QueryDefinition{})
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "%v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.List(ctx, "NAPPING")
	assert.Error(t, err)
}

func TestClientClusterStatus(t *testing.T) {
	c := makeTestClient(t)

	status, err := c.ClusterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, status.Thresholds.MaxQueryRunningTaskCount)
	assert.Empty(t, status.Queued)
}

func TestNewClientAddr(t *testing.T) {
	assert.Equal(t, "http://localhost:9094", NewClient("", nil).rootURI)
	assert.Equal(t, "http://host:1", NewClient("host:1", nil).rootURI)
	assert.Equal(t, "https://host:1", NewClient("https://host:1/", nil).rootURI)
}
