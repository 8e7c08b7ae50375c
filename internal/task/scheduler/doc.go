// Package scheduler triggers registered jobs on cron or interval schedules.
//
// It only decides when a job runs. Jobs own their work; the service bounds
// each run with a timeout, skips a trigger while the previous run of the same
// job is still going, and recovers job panics.
package scheduler
