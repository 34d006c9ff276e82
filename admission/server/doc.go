/*
Package server implements cluster wide task admission for queries.

A ClusterTaskAggregator polls every worker node for the tasks it runs and publishes
immutable TaskCountSnapshots. The Controller applies each snapshot: the
OverloadEnforcer kills running queries that exceed the configured caps and the
dispatcher admits queued queries, in FIFO order, while the cluster has room.
All query state lives in the QueryLifecycleTracker.

	submit -> QUEUED -> admit -> RUNNING -> finish -> FINISHED
	                             RUNNING -> fail   -> FAILED
	QUEUED  -> cancel -> CANCELLED
	RUNNING -> cancel -> CANCELLED

Queries killed for overload end in FAILED with CLUSTER_HAS_TOO_MANY_RUNNING_TASKS.
*/
package server
