package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryStateTerminal(t *testing.T) {
	assert.False(t, Queued.IsTerminal())
	assert.False(t, Running.IsTerminal())
	assert.True(t, Finished.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.True(t, Cancelled.IsTerminal())
}

func TestQueryStateText(t *testing.T) {
	for _, s := range []QueryState{Queued, Running, Finished, Failed, Cancelled} {
		parsed, err := ParseQueryState(strings.ToLower(s.String()))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseQueryState("PLANNING")
	assert.Error(t, err)
	assert.Equal(t, "QueryState(9)", QueryState(9).String())
}

func TestQueryInfoJSON(t *testing.T) {
	code := ClusterHasTooManyRunningTasks
	info := QueryInfo{ID: "q1", State: Failed, ErrorCode: &code, Message: OverloadMessage}
	b, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"FAILED"`)
	assert.Contains(t, string(b), `"name":"CLUSTER_HAS_TOO_MANY_RUNNING_TASKS"`)

	var decoded QueryInfo
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, Failed, decoded.State)
	assert.Equal(t, code, *decoded.ErrorCode)
}

func TestQueryErrorMessage(t *testing.T) {
	err := &QueryError{ID: "q1", Code: ClusterHasTooManyRunningTasks, Message: OverloadMessage}
	assert.Contains(t, err.Error(), OverloadMessage)
	assert.Contains(t, err.Error(), "q1")
}

func TestErrorCodeByName(t *testing.T) {
	code, ok := ErrorCodeByName("CLUSTER_HAS_TOO_MANY_RUNNING_TASKS")
	require.True(t, ok)
	assert.Equal(t, InsufficientResources, code.Type)
	_, ok = ErrorCodeByName("NOPE")
	assert.False(t, ok)
}

func TestThresholdsFromProperties(t *testing.T) {
	th, err := ThresholdsFromProperties(Thresholds{MaxQueryRunningTaskCount: 7}, map[string]string{
		"experimental.max-total-running-task-count-to-not-execute-new-query": "2",
		"max-total-running-task-count-to-kill-query":                         " 4 ",
		"query.max-memory": "1GB",
	})
	require.NoError(t, err)
	assert.Equal(t, Thresholds{
		MaxQueryRunningTaskCount:                     7,
		MaxTotalRunningTaskCountToKillQuery:          4,
		MaxTotalRunningTaskCountToNotExecuteNewQuery: 2,
	}, th)

	th, err = ThresholdsFromProperties(th, map[string]string{"max-query-running-task-count": ""})
	require.NoError(t, err)
	assert.Equal(t, 0, th.MaxQueryRunningTaskCount)

	_, err = ThresholdsFromProperties(th, map[string]string{"max-query-running-task-count": "-1"})
	assert.Error(t, err)
	_, err = ThresholdsFromProperties(th, map[string]string{"max-query-running-task-count": "many"})
	assert.Error(t, err)
}
