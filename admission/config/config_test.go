package config

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/admission/admission/domain"
	"github.com/twitter/admission/cloud/cluster"
)

func TestConfigRoundtrip(t *testing.T) {
	p := DefaultParser()
	for _, name := range ConfigNames() {
		text, err := GetConfigText(name)
		require.NoError(t, err, name)

		before, err := p.Parse(text)
		require.NoError(t, err, name)
		bytes, err := json.Marshal(before)
		require.NoError(t, err, name)
		after, err := p.Parse(bytes)
		require.NoError(t, err, "%s: %s", name, bytes)
		assert.Equal(t, before, after, name)
	}
}

func TestDefaultJSON(t *testing.T) {
	bytes, err := DefaultParser().DefaultJSON()
	require.NoError(t, err)

	var parsed map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes, &parsed))
	assert.Equal(t, "sim", parsed["Cluster"]["Type"])
	assert.Equal(t, "250ms", parsed["Aggregator"]["PollInterval"])
	assert.Equal(t, "localhost:9094", parsed["Api"]["HttpAddr"])
}

func TestSectionsOverlayDefaults(t *testing.T) {
	c, err := DefaultParser().Parse([]byte(`{
		"Aggregator": {"PollInterval": "1s"},
		"Api": {"HttpAddr": "localhost:0"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Aggregator.PollInterval.Std())
	assert.Equal(t, 100*time.Millisecond, c.Aggregator.NodeTimeout.Std())
	assert.Equal(t, "localhost:0", c.Api.HttpAddr)
	assert.Equal(t, "localhost:9095", c.Api.GrpcAddr)
	assert.Equal(t, 1000, c.Controller.HistorySize)
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		`not json`,
		`{"Cluster": {"Type": "carrier-pigeon"}}`,
		`{"Cluster": {"Type": "sim", "Nodes": "many"}}`,
		`{"Aggregator": {"PollInterval": "soon"}}`,
		`{"Controller": {"HistorySize": "big"}}`,
	}
	p := DefaultParser()
	for _, text := range tests {
		_, err := p.Parse([]byte(text))
		assert.Error(t, err, text)
	}
}

func TestParseDoesNotLeakIntoDefaults(t *testing.T) {
	p := DefaultParser()
	_, err := p.Parse([]byte(`{"Cluster": {"Nodes": 9}, "Thresholds": {"Properties": {"max-query-running-task-count": "3"}}}`))
	require.NoError(t, err)

	c, err := p.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Cluster.(*ClusterSimConfig).Nodes)
	assert.Empty(t, c.Thresholds.Properties)
}

func TestThresholds(t *testing.T) {
	tests := []struct {
		config   ThresholdsConfig
		expected domain.Thresholds
		err      bool
	}{
		{
			config:   ThresholdsConfig{MaxQueryRunningTaskCount: 5},
			expected: domain.Thresholds{MaxQueryRunningTaskCount: 5},
		},
		{
			config: ThresholdsConfig{
				MaxQueryRunningTaskCount: 5,
				Properties: map[string]string{
					"max-query-running-task-count":                                       "7",
					"experimental.max-total-running-task-count-to-not-execute-new-query": "3",
				},
			},
			expected: domain.Thresholds{MaxQueryRunningTaskCount: 7, MaxTotalRunningTaskCountToNotExecuteNewQuery: 3},
		},
		{
			config: ThresholdsConfig{MaxTotalRunningTaskCountToKillQuery: -1},
			err:    true,
		},
		{
			config: ThresholdsConfig{Properties: map[string]string{"max-query-running-task-count": "lots"}},
			err:    true,
		},
	}
	for i, test := range tests {
		got, err := test.config.Create()
		if test.err {
			assert.Error(t, err, "case %d", i)
			continue
		}
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, test.expected, got, "case %d", i)
	}
}

func TestGetConfigText(t *testing.T) {
	text, err := GetConfigText("local.sim")
	require.NoError(t, err)
	assert.Contains(t, string(text), `"Type": "sim"`)

	_, err = GetConfigText("local.nothing")
	assert.Error(t, err)

	literal := `{"Cluster": {"Type": "memory", "Nodes": ["a"]}}`
	text, err = GetConfigText(literal)
	require.NoError(t, err)
	assert.Equal(t, literal, string(text))
}

func TestClusterConfigs(t *testing.T) {
	p := DefaultParser()

	c, err := p.Parse([]byte(`{"Cluster": {"Type": "sim", "Nodes": 3, "SlowNodes": {"node2": "1s"}, "FailingNodes": ["node3"]}}`))
	require.NoError(t, err)
	parts, err := c.Cluster.Create(nil, nil)
	require.NoError(t, err)
	defer parts.Members.Close()
	assert.Len(t, parts.Sim.Nodes(), 3)
	node3, ok := parts.Sim.Node("node3")
	require.True(t, ok)
	_, err = node3.RunningTaskCounts(context.Background())
	assert.Error(t, err)

	c, err = p.Parse([]byte(`{"Cluster": {"Type": "memory", "Nodes": ["a", "b"]}}`))
	require.NoError(t, err)
	parts, err = c.Cluster.Create(nil, nil)
	require.NoError(t, err)
	defer parts.Members.Close()
	assert.Equal(t, []cluster.Node{parts.Sim.Nodes()[0], parts.Sim.Nodes()[1]}, parts.Members.Members())

	bad := []string{
		`{"Cluster": {"Type": "sim", "Nodes": 0}}`,
		`{"Cluster": {"Type": "sim", "Nodes": 2, "FailingNodes": ["node9"]}}`,
		`{"Cluster": {"Type": "sim", "Nodes": 2, "SlowNodes": {"node9": "1s"}}}`,
		`{"Cluster": {"Type": "memory"}}`,
		`{"Cluster": {"Type": "memory", "Nodes": ["a", "a"]}}`,
	}
	for _, text := range bad {
		c, err := p.Parse([]byte(text))
		require.NoError(t, err, text)
		_, err = c.Cluster.Create(nil, nil)
		assert.Error(t, err, text)
	}
}

func TestClusterCreateWithoutClockOrStats(t *testing.T) {
	p := DefaultParser()
	for _, text := range []string{
		`{"Cluster": {"Type": "sim", "Nodes": 2, "DefaultPlan": {"Tasks": 2, "RunTime": "1h"}}}`,
		`{"Cluster": {"Type": "memory", "Nodes": ["a", "b"], "DefaultPlan": {"Tasks": 2, "RunTime": "1h"}}}`,
	} {
		c, err := p.Parse([]byte(text))
		require.NoError(t, err, text)
		parts, err := c.Cluster.Create(nil, nil)
		require.NoError(t, err, text)
		assert.Len(t, parts.Members.Members(), 2, text)

		require.NoError(t, parts.Executor.Start(context.Background(), "q1", domain.QueryDefinition{Query: "select 1"}), text)
		require.Eventually(t, func() bool { return parts.Sim.NumTasks() == 2 }, 5*time.Second, time.Millisecond, text)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, parts.Executor.Terminate(ctx, "q1", domain.ClusterHasTooManyRunningTasks), text)
		cancel()
		parts.Members.Close()
	}
}

func TestCreateSystem(t *testing.T) {
	system, err := DefaultParser().Create([]byte(`{
		"Cluster": {
			"Type": "memory",
			"Nodes": ["a", "b"],
			"TeardownDelay": "5ms",
			"DefaultPlan": {"Tasks": 2, "RunTime": "20ms"}
		},
		"Aggregator": {"PollInterval": "5ms"},
		"Controller": {"TickRate": "5ms"},
		"Api": {"HttpAddr": "localhost:0", "GrpcAddr": ""}
	}`), nil, nil)
	require.NoError(t, err)
	require.NoError(t, system.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, system.Stop(ctx))
	}()

	id, err := system.Controller.Submit(domain.QueryDefinition{Query: "select 1"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, system.Controller.Await(ctx, id))

	resp, err := http.Get("http://" + system.Api.HttpAddr() + "/v1/query/" + string(id))
	require.NoError(t, err)
	defer resp.Body.Close()
	var info domain.QueryInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, domain.Finished, info.State)
}
