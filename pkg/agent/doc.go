/*
Package agent implements the per-host control loop.

The agent takes an exclusive flock on the host lock file before doing
anything, so two agents never converge one host at once. The lock is
released on every return path and by the kernel if the process dies.

In single-shot mode the agent performs one run and exits:

	STANDBY -> UPDATING -> run -> report -> STANDBY

In long-poll mode it loops on the control channel:

	TIMEOUT   poll again, no status sent
	RUN       UPDATING, run, exactly one report, STANDBY
	REPORT    SYSTEM_STATUS snapshot of the last run (skipped before the first)
	SHUTDOWN  SHUTDOWN status, then return

A failed poll is logged and retried after a fixed backoff. Status and report
uploads are best-effort: failures are logged and never stop the loop.
SHUTDOWN is only seen between runs, so it never interrupts one.
*/
package agent
