package metrics

import (
	"errors"
	"testing"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type staticSource struct {
	statuses []types.StatusUpdate
	err      error
}

func (s staticSource) ListStatuses() ([]types.StatusUpdate, error) {
	return s.statuses, s.err
}

func TestCollectorCountsAgentsByStatus(t *testing.T) {
	NewCollector(staticSource{statuses: []types.StatusUpdate{
		{Hostname: "a", Status: types.AgentStatusStandby},
		{Hostname: "b", Status: types.AgentStatusStandby},
		{Hostname: "c", Status: types.AgentStatusUpdating},
	}}).Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(AgentsTotal.WithLabelValues("STANDBY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AgentsTotal.WithLabelValues("UPDATING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(AgentsTotal.WithLabelValues("SHUTDOWN")))

	// A failing source leaves the last values in place
	NewCollector(staticSource{err: errors.New("closed")}).Collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(AgentsTotal.WithLabelValues("STANDBY")))
}
