// Package scheduler registers named cron jobs on robfig/cron in a single
// reference time zone.
//
// Names are unique: adding a job under an existing name replaces it. Jobs
// run on cron's goroutines with panic recovery, overlap skipping and an
// optional per-run timeout.
package scheduler
