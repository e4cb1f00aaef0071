// Package queue throttles job starts per queue and per job name.
//
// The transport still owns delivery; a [Manager] only answers whether a
// job that was just received may run now. Workers hand refused jobs back
// to the transport with a short visibility delay, so they come round again
// without counting as failures (the receive count does still grow).
//
//	m := queue.NewManager(queue.Config{Name: "emails", MaxConcurrency: 5, RateLimit: 10, RateBurst: 20})
//	m.SetJobConfig(queue.JobConfig{QueueName: "emails", JobName: "newsletter", RateLimit: 1})
//
//	if m.Acquire("emails", j.Name) {
//	    defer m.Release("emails", j.Name)
//	    // run j
//	}
//
// Rate limits are token buckets from golang.org/x/time/rate.
package queue
