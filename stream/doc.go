// Package stream implements cancellable, pull-based byte input streams, and
// the buffered and structured decoders layered over them.
//
// A concrete byte source implements the narrow [Backend] interface. [New]
// wraps it in a [Stream], which enforces the contract every stream shares:
// one outstanding operation at a time, no operations after close, and
// cancellation checked before any I/O.
//
// [BufferedInputStream] adds a growable look-ahead buffer over any
// [InputStream], and [DataInputStream] adds fixed-width integer decoding,
// line splitting, and delimited reads on top of that.
//
// Each blocking operation has an asynchronous form, which runs it on another
// goroutine and delivers the result via an [eventloop.Task] to the calling
// goroutine's thread-default loop.
//
// A read returning 0 bytes with a nil error indicates end of stream.
package stream
