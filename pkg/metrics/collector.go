package metrics

import (
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

// StatusSource lists the latest status of every known agent
type StatusSource interface {
	ListStatuses() ([]types.StatusUpdate, error)
}

// Collector periodically refreshes server-side gauges from the store
type Collector struct {
	source   StatusSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling source every 15 seconds
func NewCollector(source StatusSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes fleetd_agents_total once
func (c *Collector) Collect() {
	statuses, err := c.source.ListStatuses()
	if err != nil {
		return
	}

	counts := map[types.AgentStatus]int{
		types.AgentStatusStandby:  0,
		types.AgentStatusUpdating: 0,
		types.AgentStatusShutdown: 0,
	}
	for _, s := range statuses {
		counts[s.Status]++
	}
	for status, n := range counts {
		AgentsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
