package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/admission/admission/domain"
)

func TestDirectivePlanner(t *testing.T) {
	planner := NewDirectivePlanner(Plan{Tasks: 1, RunTime: time.Second})

	plan, err := planner(domain.QueryDefinition{Query: "SELECT count(*) FROM orders"})
	require.NoError(t, err)
	assert.Equal(t, Plan{Tasks: 1, RunTime: time.Second}, plan)

	plan, err = planner(domain.QueryDefinition{Query: `
		SELECT *
		FROM lineitem
		-- sim tasks 6
		-- sim ramp 10ms
		-- sim run 2s
		-- sim fail EXCEEDED_TIME_LIMIT took too long
		-- a regular comment
	`})
	require.NoError(t, err)
	assert.Equal(t, Plan{
		Tasks:        6,
		RampInterval: 10 * time.Millisecond,
		RunTime:      2 * time.Second,
		FailMessage:  "EXCEEDED_TIME_LIMIT took too long",
	}, plan)

	plan, err = planner(domain.QueryDefinition{Query: "-- sim hang\n-- sim reject\n"})
	require.NoError(t, err)
	assert.True(t, plan.Hang)
	assert.Equal(t, "simulated start failure", plan.StartError)
}

func TestDirectivePlannerErrors(t *testing.T) {
	planner := NewDirectivePlanner(Plan{})
	for _, query := range []string{
		"-- sim tasks many",
		"-- sim tasks -1",
		"-- sim ramp soon",
		"-- sim run later",
		"-- sim explode",
	} {
		_, err := planner(domain.QueryDefinition{Query: query})
		assert.Error(t, err, query)
	}
}

func TestFailureCode(t *testing.T) {
	code, msg := failureCode("CLUSTER_OUT_OF_MEMORY ran out")
	assert.Equal(t, domain.ClusterOutOfMemory, code)
	assert.Equal(t, "ran out", msg)

	code, msg = failureCode("EXCEEDED_TIME_LIMIT")
	assert.Equal(t, domain.ExceededTimeLimit, code)
	assert.Equal(t, "EXCEEDED_TIME_LIMIT", msg)

	code, msg = failureCode("disk on fire")
	assert.Equal(t, domain.RemoteTaskError, code)
	assert.Equal(t, "disk on fire", msg)
}
