// Package broker is the producer and consumer face of a queue.
//
// [Standard] wraps one connector.Connector. Producers call
// [Standard.Enqueue]; workers range over [Standard.Jobs], a lazy stream
// that keeps long-polling until the caller stops iterating or the context
// is cancelled:
//
//	b := broker.NewStandard(conn, broker.WithWaitTime(10*time.Second))
//	for j, err := range b.Jobs(ctx, "emails") {
//	    if err != nil {
//	        continue // transport hiccup; the stream pauses and resumes
//	    }
//	    handle(j)
//	}
//
// [Eager] runs jobs synchronously inside Enqueue with no queue at all. It
// still round-trips the envelope through the codec so handlers observe
// exactly what a real worker would decode. Use it in tests and scripts.
package broker
