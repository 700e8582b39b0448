/*
Package reconciler performs convergence runs.

A run syncs the desired-state checkout, loads the host's property map,
compiles the plan for one role and deploys its modules strictly in plan
order. The first module error stops the run. When every module deployed,
each module is validated: services active, container running, declared
health checks passing.

	res, err := rec.Run(ctx, "web")
	snapshot := res.Snapshot(hostname)  // always available, even on error
	reason := res.Reason()              // UPDATE_SUCCESS, _NOCHANGE or _FAILURE

Collaborators that hold resources, such as the containerd connection, live
in a deploy.RunContext created for the run and closed when it ends.

The last Result is kept so the agent can answer REPORT commands. Run
durations, outcomes and per-module changes are exported through
pkg/metrics.
*/
package reconciler
