package storage

import (
	"errors"

	"github.com/cuemby/fleetd/pkg/types"
)

// ErrNotFound is returned when a host has no stored record
var ErrNotFound = errors.New("not found")

// Store persists what agents tell the coordination server
type Store interface {
	// Statuses, one per host; the latest update wins
	PutStatus(update *types.StatusUpdate) error
	GetStatus(hostname string) (*types.StatusUpdate, error)
	ListStatuses() ([]types.StatusUpdate, error)

	// Reports, many per host
	PutReport(report *types.Report) error
	ListReports(hostname string, limit int) ([]types.Report, error)
	PruneReports(hostname string, keep int) (int, error)

	// Utility
	Close() error
}
