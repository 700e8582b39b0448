/*
Package client is the HTTP client agents use to talk to the coordination
server.

The protocol is JSON over HTTP:

	GET  /api/v1/agents/{host}/command?timeout=<s>   long-poll for a command
	POST /api/v1/status                              state transition
	POST /api/v1/reports                             deployment report

A poll answered with 204 or 408 means the window lapsed and yields
types.CommandTimeout. Polls are never retried by the client; the agent loop
backs off instead. Status and report uploads retry a bounded number of times
with a fixed wait. Every failure is returned as a *types.TransportError.

# Usage

	c := client.NewClient("http://fleet:8080", "db1",
		client.WithPollTimeout(30*time.Second))

	cmd, err := c.Poll(ctx)
	if err != nil {
		// back off and poll again
	}
	if cmd == types.CommandRun {
		_ = c.SendStatus(ctx, types.AgentStatusUpdating)
	}

Enqueue, ListAgents and ListReports serve the operator CLI.
*/
package client
