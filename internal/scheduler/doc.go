// Package scheduler owns the job registry and the cron timers that fire it.
//
// Every tick runs in its own supervised goroutine. Ticks of the same job may
// overlap; a slow or failing job never delays another job's timer. Stop
// cancels future ticks and clears the registry but lets in-flight runs
// finish; Wait drains them on shutdown.
package scheduler
