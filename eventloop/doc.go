// Package eventloop provides the event loop, sources, and task abstraction
// that asynchronous stream operations complete through.
//
// # Architecture
//
// A [Loop] owns a set of [Source] values. Each source has a priority and a
// ready time ([ReadyImmediate], [ReadyNever], or a [MonotonicTime]
// deadline), and may have child sources that make it ready. One goroutine at
// a time dispatches the loop, either by calling [Loop.Run], or by calling
// [Loop.Iterate] directly. Between iterations the loop sleeps on a
// [wakeup.Wakeup], which any change to its sources signals.
//
// Built-in sources:
//   - [NewIdleSource]: always ready, e.g. [Loop.Submit]
//   - [NewTimeoutSource]: ready every interval, e.g. [Loop.ScheduleTimer]
//   - [NewCancellableSource]: ready once a cancellable is cancelled
//
// # Tasks
//
// A [Task] carries the result of an asynchronous operation back to the loop
// that was the creating goroutine's thread-default (see
// [Loop.PushThreadDefault]), invoking its [ReadyFunc] there, at the task's
// priority. [Task.RunInGoroutine] runs blocking work off the loop.
//
// # Thread Safety
//
//   - [Source.Attach], [Source.Destroy], and [Source.SetReadyTime] are safe
//     to call from any goroutine
//   - [Loop.Submit] and [Loop.SubmitInternal] are safe to call from any goroutine
//   - A source is never dispatched concurrently with itself
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go loop.Run(ctx)
//	defer loop.Shutdown(context.Background())
//
//	_ = loop.Submit(func() {
//	    fmt.Println("on the loop")
//	})
package eventloop
