package stats

/*
This file defines all the metrics being collected.   As new metrics are added please follow this pattern.
*/

const (
	/****************************** Aggregator metrics ***************************************/
	/*
		time spent polling every node for one snapshot
	*/
	AggregatorPollLatency_ms = "aggregatorPollLatency_ms"

	/*
		number of snapshots published
	*/
	AggregatorSnapshotCounter = "aggregatorSnapshotCounter"

	/*
		number of individual node polls that failed or timed out
	*/
	AggregatorNodePollErrCounter = "aggregatorNodePollErrCounter"

	/*
		number of node polls skipped because the node is backing off
	*/
	AggregatorNodeBackoffCounter = "aggregatorNodeBackoffCounter"

	/*
		number of known worker nodes
	*/
	AggregatorNodesGauge = "aggregatorNodesGauge"

	/*
		number of nodes whose counts were carried forward in the latest snapshot
	*/
	AggregatorStaleNodesGauge = "aggregatorStaleNodesGauge"

	/*
		cluster wide running task total in the latest snapshot
	*/
	AggregatorClusterRunningTasksGauge = "aggregatorClusterRunningTasksGauge"

	/****************************** Controller metrics ***************************************/
	/*
		number of queries submitted
	*/
	ControllerSubmitCounter = "controllerSubmitCounter"

	/*
		number of queries moved from the dispatch queue to RUNNING
	*/
	ControllerAdmitCounter = "controllerAdmitCounter"

	/*
		number of cancel requests accepted
	*/
	ControllerCancelCounter = "controllerCancelCounter"

	/*
		number of queries reported finished by the execution layer
	*/
	ControllerFinishedCounter = "controllerFinishedCounter"

	/*
		number of queries reported failed by the execution layer
	*/
	ControllerFailedCounter = "controllerFailedCounter"

	/*
		number of times the execution layer refused to start an admitted query
	*/
	ControllerStartErrCounter = "controllerStartErrCounter"

	/*
		queries waiting in the dispatch queue
	*/
	ControllerQueuedQueriesGauge = "controllerQueuedQueriesGauge"

	/*
		queries in the RUNNING state
	*/
	ControllerRunningQueriesGauge = "controllerRunningQueriesGauge"

	/*
		time spent in a single controller step
	*/
	ControllerStepLatency_ms = "controllerStepLatency_ms"

	/*
		the amount of time the controller has been running
	*/
	ControllerUptime_ms = "controllerUptimeGauge_ms"

	/****************************** Overload enforcer metrics ********************************/
	/*
		number of running queries killed because the cluster was overloaded
	*/
	EnforcerKillCounter = "enforcerKillCounter"

	/*
		number of terminate commands that returned an error
	*/
	EnforcerTerminateErrCounter = "enforcerTerminateErrCounter"

	/*
		number of terminate commands that did not complete before the timeout
	*/
	EnforcerTerminateTimeoutCounter = "enforcerTerminateTimeoutCounter"

	/*
		time taken by terminate commands, including failed ones
	*/
	EnforcerTerminateLatency_ms = "enforcerTerminateLatency_ms"

	/****************************** Lifecycle tracker metrics ********************************/
	/*
		number of rejected state transitions
	*/
	TrackerInvalidTransitionCounter = "trackerInvalidTransitionCounter"

	/*
		number of query records in the live map
	*/
	TrackerLiveQueriesGauge = "trackerLiveQueriesGauge"

	/*
		number of terminal records moved to history
	*/
	TrackerPrunedCounter = "trackerPrunedCounter"

	/****************************** Simulated execution metrics ******************************/
	/*
		number of queries started by the simulated executor
	*/
	SimQueriesStartedCounter = "simQueriesStartedCounter"

	/*
		number of tasks placed on simulated nodes
	*/
	SimTasksPlacedCounter = "simTasksPlacedCounter"

	/*
		number of queries torn down after a cancel or terminate command
	*/
	SimTeardownCounter = "simTeardownCounter"

	/*
		queries the simulated executor is currently running
	*/
	SimRunningQueriesGauge = "simRunningQueriesGauge"

	/****************************** API metrics **********************************************/
	/*
		number of operator API requests served
	*/
	ApiRequestCounter = "apiRequestCounter"

	/*
		number of submissions rejected by the rate limiter
	*/
	ApiRateLimitedCounter = "apiRateLimitedCounter"

	/*
		time spent serving operator API requests
	*/
	ApiRequestLatency_ms = "apiRequestLatency_ms"
)
