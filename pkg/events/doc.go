/*
Package events is the coordination server's in-process event bus.

The API server publishes an event whenever an agent reports a status, a
report arrives, or a command is queued or delivered. The /api/v1/events
stream holds one subscription per connected client:

	sub := broker.Subscribe(events.ForHost("web1"))
	defer broker.Unsubscribe(sub)

	for ev := range sub.C {
		fmt.Println(ev.Type, ev.Host, ev.Message)
	}

Publishing never blocks. When the broker queue or a subscriber buffer is
full the event is skipped for that consumer and counted in Dropped.
Events are not persisted.
*/
package events
