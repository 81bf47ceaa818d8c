// Package scheduler runs health checks on a fixed pool of worker goroutines.
//
// Work is submitted without blocking: when the bounded queue is full the
// unit is refused and the caller decides what to do about it. Completed
// units are funnelled back to a single consumer which calls Poll or Wait,
// so result handlers never run concurrently with each other.
//
//	pool := scheduler.New(8, 8, 10*time.Second, logger)
//	pool.Start()
//	pool.Submit(scheduler.Unit{Host: "192.0.2.1", Check: check, OnSuccess: ok, OnFailure: fail})
//	err := pool.Poll(time.Second)
package scheduler
