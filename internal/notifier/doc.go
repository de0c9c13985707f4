// Package notifier delivers outbound chat messages through an async
// pipeline: a bounded queue, a small worker pool, a token-bucket rate limit,
// optional retries and duplicate suppression.
//
// Daily reminders go through it so a burst of jobs firing at the same
// minute does not trip Telegram flood limits, and so a job that fires twice
// within the dedup window (clock skew, restart) sends only once.
//
// When the pipeline is disabled Notify delivers inline on the caller's
// goroutine.
package notifier
