// Package vex implements the core of an HTTP/2 client: a per-connection
// protocol engine that multiplexes many concurrent request/response
// streams over a single TLS connection.
//
// The engine is a single-goroutine actor. Inbound bytes, request
// batches from the admission queue, and control calls all arrive
// through one mailbox and are processed in order, so no lock guards
// connection state. Each request is admitted against the peer's
// MAX_CONCURRENT_STREAMS budget, framed under HTTP/2 flow control,
// and its response is delivered asynchronously on the client's event
// channel.
//
// Typical use:
//
//	client, err := vex.Dial(ctx, "https://example.com")
//	if err != nil {
//		// ...
//	}
//	ref, _ := client.Get("/")
//	for ev := range client.Events() {
//		switch ev := ev.(type) {
//		case vex.ResponseEvent:
//			if ev.Ref == ref {
//				fmt.Println(ev.Response.Status)
//			}
//		case vex.ClosedEvent:
//			return
//		}
//	}
package vex
