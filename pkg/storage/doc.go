/*
Package storage persists agent statuses and deployment reports for the
coordination server.

BoltStore keeps everything in a single bbolt file, <dataDir>/fleetd.db, with
two buckets:

	statuses   hostname                -> latest StatusUpdate (JSON)
	reports    hostname/<date>         -> Report (JSON)

Report keys carry the report date in UTC, RFC3339 with fixed-width
nanoseconds, so a prefix scan returns a host's reports in date order.
PruneReports bounds how many a host keeps.

All operations run in their own bbolt transaction; reads may run
concurrently with each other.
*/
package storage
