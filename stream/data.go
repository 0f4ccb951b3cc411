package stream

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/joeycumines/go-cancelio/cancellable"
	"github.com/joeycumines/go-cancelio/eventloop"
	"github.com/joeycumines/go-cancelio/ioerr"
	"golang.org/x/exp/constraints"
)

// ByteOrder selects how multi-byte integers are decoded.
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
	HostEndian
)

func (o ByteOrder) valid() bool { return o >= BigEndian && o <= HostEndian }

func (o ByteOrder) binaryOrder() binary.ByteOrder {
	switch o {
	case LittleEndian:
		return binary.LittleEndian
	case HostEndian:
		return binary.NativeEndian
	default:
		return binary.BigEndian
	}
}

func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return `BigEndian`
	case LittleEndian:
		return `LittleEndian`
	case HostEndian:
		return `HostEndian`
	default:
		return `Unknown`
	}
}

// NewlineType selects the line terminator recognised by
// [DataInputStream.ReadLine].
type NewlineType int

const (
	// NewlineLF terminates lines with "\n".
	NewlineLF NewlineType = iota
	// NewlineCR terminates lines with "\r".
	NewlineCR
	// NewlineCRLF terminates lines with "\r\n", a lone "\r" or "\n" is part
	// of the line.
	NewlineCRLF
	// NewlineAny terminates lines with whichever of "\r\n", "\n", or "\r"
	// comes first. A "\r" at end of stream is a terminator.
	NewlineAny
)

func (n NewlineType) valid() bool { return n >= NewlineLF && n <= NewlineAny }

func (n NewlineType) String() string {
	switch n {
	case NewlineLF:
		return `LF`
	case NewlineCR:
		return `CR`
	case NewlineCRLF:
		return `CRLF`
	case NewlineAny:
		return `Any`
	default:
		return `Unknown`
	}
}

// Record is the result of a line or delimited read.
type Record struct {
	// Bytes excludes the terminator.
	Bytes []byte
	// TermLen is the number of terminator bytes consumed after Bytes, 0 if
	// the record ended at end of stream.
	TermLen int
}

func (r *Record) String() string {
	return string(r.Bytes)
}

// Consumed returns the number of bytes the read consumed from the stream.
func (r *Record) Consumed() int {
	return len(r.Bytes) + r.TermLen
}

// DataInputStream decodes fixed-width integers, lines, and delimited records
// from a [BufferedInputStream].
//
// Each read uses the byte order and newline type configured at the time it
// is started. Every read holds the stream's pending flag until it completes,
// including the asynchronous forms, which fail with an [ioerr.Pending] error
// if another operation is outstanding.
type DataInputStream struct {
	*BufferedInputStream
	byteOrder   ByteOrder
	newlineType NewlineType
}

// NewData returns a data stream reading from base.
func NewData(base InputStream, opts ...Option) (*DataInputStream, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &DataInputStream{
		BufferedInputStream: newBuffered(base, cfg),
		byteOrder:           cfg.byteOrder,
		newlineType:         cfg.newlineType,
	}, nil
}

func (d *DataInputStream) ByteOrder() ByteOrder { return d.byteOrder }

// SetByteOrder sets the byte order of subsequent integer reads.
func (d *DataInputStream) SetByteOrder(order ByteOrder) {
	if !order.valid() {
		panic(`stream: invalid byte order`)
	}
	d.byteOrder = order
}

func (d *DataInputStream) NewlineType() NewlineType { return d.newlineType }

// SetNewlineType sets the terminator of subsequent line reads.
func (d *DataInputStream) SetNewlineType(newlineType NewlineType) {
	if !newlineType.valid() {
		panic(`stream: invalid newline type`)
	}
	d.newlineType = newlineType
}

// readData consumes exactly len(p) bytes into p, failing with
// [ioerr.UnexpectedEOF] if the stream ends first. Nothing is consumed on
// failure.
func (d *DataInputStream) readData(p []byte, c *cancellable.Cancellable) error {
	if d.BufferSize() < len(p) {
		d.SetBufferSize(len(p))
	}
	for available := d.buf.available(); available < len(p); available = d.buf.available() {
		n, err := d.buf.fill(len(p)-available, c)
		if err != nil {
			return err
		}
		if n == 0 {
			return ioerr.New(ioerr.UnexpectedEOF, `Unexpected early end-of-stream`)
		}
	}
	d.buf.pos += copy(p, d.buf.data[d.buf.pos:d.buf.end])
	return nil
}

func readInteger[T constraints.Integer](d *DataInputStream, c *cancellable.Cancellable, size int, decode func(binary.ByteOrder, []byte) T) (T, error) {
	order := d.byteOrder.binaryOrder()
	if err := d.SetPending(); err != nil {
		return 0, err
	}
	defer d.ClearPending()
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}
	var b [8]byte
	if err := d.readData(b[:size], c); err != nil {
		return 0, err
	}
	return decode(order, b[:size]), nil
}

func (d *DataInputStream) ReadUint8(c *cancellable.Cancellable) (uint8, error) {
	return readInteger(d, c, 1, func(_ binary.ByteOrder, b []byte) uint8 { return b[0] })
}

func (d *DataInputStream) ReadInt16(c *cancellable.Cancellable) (int16, error) {
	return readInteger(d, c, 2, func(o binary.ByteOrder, b []byte) int16 { return int16(o.Uint16(b)) })
}

func (d *DataInputStream) ReadUint16(c *cancellable.Cancellable) (uint16, error) {
	return readInteger(d, c, 2, binary.ByteOrder.Uint16)
}

func (d *DataInputStream) ReadInt32(c *cancellable.Cancellable) (int32, error) {
	return readInteger(d, c, 4, func(o binary.ByteOrder, b []byte) int32 { return int32(o.Uint32(b)) })
}

func (d *DataInputStream) ReadUint32(c *cancellable.Cancellable) (uint32, error) {
	return readInteger(d, c, 4, binary.ByteOrder.Uint32)
}

func (d *DataInputStream) ReadInt64(c *cancellable.Cancellable) (int64, error) {
	return readInteger(d, c, 8, func(o binary.ByteOrder, b []byte) int64 { return int64(o.Uint64(b)) })
}

func (d *DataInputStream) ReadUint64(c *cancellable.Cancellable) (uint64, error) {
	return readInteger(d, c, 8, binary.ByteOrder.Uint64)
}

// scanState carries an incremental scan across buffer refills.
type scanState struct {
	// checked is the number of available bytes already scanned
	checked int
	lastCR  bool
}

// scanNewline looks for a terminator in the unchecked available bytes,
// returning its offset and length, or -1.
func (d *DataInputStream) scanNewline(st *scanState, mode NewlineType) (int, int) {
	view := d.PeekBuffer()
	for i := st.checked; i < len(view); i++ {
		found, termLen := -1, 0
		switch mode {
		case NewlineLF:
			if view[i] == '\n' {
				found, termLen = i, 1
			}
		case NewlineCR:
			if view[i] == '\r' {
				found, termLen = i, 1
			}
		case NewlineCRLF:
			if st.lastCR && view[i] == '\n' {
				found, termLen = i-1, 2
			}
		default:
			// a CR is classified by the byte after it
			switch {
			case view[i] == '\n' && st.lastCR:
				found, termLen = i-1, 2
			case view[i] == '\n':
				found, termLen = i, 1
			case st.lastCR:
				found, termLen = i-1, 1
			}
		}
		st.lastCR = view[i] == '\r'
		if found >= 0 {
			return found, termLen
		}
	}
	st.checked = len(view)
	return -1, 0
}

// stopSet is a set of stop bytes. Stops are matched byte by byte, never
// decoded as UTF-8.
type stopSet [256]bool

func newStopSet(stops string) *stopSet {
	var set stopSet
	for i := 0; i < len(stops); i++ {
		set[stops[i]] = true
	}
	return &set
}

// scanStops looks for any byte of stops in the unchecked available bytes,
// returning its offset, or -1.
func (d *DataInputStream) scanStops(st *scanState, stops string, set *stopSet) int {
	view := d.PeekBuffer()
	if len(stops) == 1 {
		if i := bytes.IndexByte(view[st.checked:], stops[0]); i >= 0 {
			return st.checked + i
		}
	} else {
		for i := st.checked; i < len(view); i++ {
			if set[view[i]] {
				return i
			}
		}
	}
	st.checked = len(view)
	return -1
}

// growIfFull doubles the buffer when a scan has exhausted it.
func (d *DataInputStream) growIfFull() {
	if size := d.BufferSize(); d.buf.available() == size {
		d.buf.logger.Debug().
			Int(`from`, size).
			Int(`to`, size*2).
			Log(`stream: growing buffer`)
		d.SetBufferSize(size * 2)
	}
}

// take consumes a record of n bytes followed by termLen terminator bytes,
// which must be available.
func (d *DataInputStream) take(n, termLen int) *Record {
	rec := &Record{
		Bytes:   bytes.Clone(d.buf.data[d.buf.pos : d.buf.pos+n]),
		TermLen: termLen,
	}
	if rec.Bytes == nil {
		rec.Bytes = []byte{}
	}
	d.buf.pos += n + termLen
	return rec
}

// scanUntil fills the buffer until scan finds a record, or end of stream. It
// returns nil at end of stream with nothing available.
func (d *DataInputStream) scanUntil(c *cancellable.Cancellable, scan func(st *scanState) (int, int), atEOF func(st *scanState) (int, int)) (*Record, error) {
	var st scanState
	for {
		if found, termLen := scan(&st); found >= 0 {
			return d.take(found, termLen), nil
		}
		d.growIfFull()
		n, err := d.buf.fill(-1, c)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if d.buf.available() == 0 {
				return nil, nil
			}
			found, termLen := atEOF(&st)
			return d.take(found, termLen), nil
		}
	}
}

func (d *DataInputStream) readLine(c *cancellable.Cancellable, mode NewlineType) (*Record, error) {
	return d.scanUntil(c,
		func(st *scanState) (int, int) { return d.scanNewline(st, mode) },
		func(st *scanState) (int, int) {
			if mode == NewlineAny && st.lastCR {
				return st.checked - 1, 1
			}
			return st.checked, 0
		},
	)
}

func (d *DataInputStream) readUpto(c *cancellable.Cancellable, stops string) (*Record, error) {
	set := newStopSet(stops)
	return d.scanUntil(c,
		func(st *scanState) (int, int) { return d.scanStops(st, stops, set), 0 },
		func(st *scanState) (int, int) { return st.checked, 0 },
	)
}

func (d *DataInputStream) readUntil(c *cancellable.Cancellable, stops string) (*Record, error) {
	rec, err := d.readUpto(c, stops)
	if rec != nil && d.buf.available() > 0 {
		d.buf.pos++
		rec.TermLen = 1
	}
	return rec, err
}

func validateUTF8(rec *Record, err error) (*Record, error) {
	if err != nil || rec == nil {
		return rec, err
	}
	if !utf8.Valid(rec.Bytes) {
		return nil, ioerr.New(ioerr.InvalidEncoding, `Invalid byte sequence in conversion input`)
	}
	return rec, nil
}

// readSync runs fn holding the pending flag, with c as the current
// cancellable.
func (d *DataInputStream) readSync(c *cancellable.Cancellable, fn func(c *cancellable.Cancellable) (*Record, error)) (*Record, error) {
	if err := d.SetPending(); err != nil {
		return nil, err
	}
	defer d.ClearPending()
	if c != nil {
		c.PushCurrent()
		defer c.PopCurrent()
	}
	return fn(c)
}

// ReadLine reads a line, terminated per the newline type. It returns a nil
// record at end of stream, with nothing available. A final line without a
// terminator is returned with a TermLen of 0.
func (d *DataInputStream) ReadLine(c *cancellable.Cancellable) (*Record, error) {
	mode := d.newlineType
	return d.readSync(c, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readLine(c, mode)
	})
}

// ReadLineUTF8 is [DataInputStream.ReadLine], failing with an
// [ioerr.InvalidEncoding] error if the line is not valid UTF-8. The line is
// consumed regardless.
func (d *DataInputStream) ReadLineUTF8(c *cancellable.Cancellable) (*Record, error) {
	return validateUTF8(d.ReadLine(c))
}

// ReadUpto reads until any byte in stops, which is not consumed. It returns a
// nil record at end of stream, with nothing available.
func (d *DataInputStream) ReadUpto(stops string, c *cancellable.Cancellable) (*Record, error) {
	return d.readSync(c, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readUpto(c, stops)
	})
}

// ReadUntil is [DataInputStream.ReadUpto], but consumes the stop byte, if
// any, reporting it as a TermLen of 1.
//
// Deprecated: Use [DataInputStream.ReadUpto], followed by
// [DataInputStream.ReadUint8] to consume the stop byte.
func (d *DataInputStream) ReadUntil(stops string, c *cancellable.Cancellable) (*Record, error) {
	return d.readSync(c, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readUntil(c, stops)
	})
}

// ReadLineAsync is the asynchronous form of [DataInputStream.ReadLine].
func (d *DataInputStream) ReadLineAsync(priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[*Record]) *eventloop.Task[*Record] {
	mode := d.newlineType
	return startAsync(d.Stream, `read line`, priority, c, callback, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readLine(c, mode)
	})
}

// ReadLineUTF8Async is the asynchronous form of
// [DataInputStream.ReadLineUTF8].
func (d *DataInputStream) ReadLineUTF8Async(priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[*Record]) *eventloop.Task[*Record] {
	mode := d.newlineType
	return startAsync(d.Stream, `read line utf8`, priority, c, callback, func(c *cancellable.Cancellable) (*Record, error) {
		return validateUTF8(d.readLine(c, mode))
	})
}

// ReadUptoAsync is the asynchronous form of [DataInputStream.ReadUpto].
func (d *DataInputStream) ReadUptoAsync(stops string, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[*Record]) *eventloop.Task[*Record] {
	return startAsync(d.Stream, `read upto`, priority, c, callback, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readUpto(c, stops)
	})
}

// ReadUntilAsync is the asynchronous form of [DataInputStream.ReadUntil].
//
// Deprecated: Use [DataInputStream.ReadUptoAsync].
func (d *DataInputStream) ReadUntilAsync(stops string, priority int, c *cancellable.Cancellable, callback eventloop.ReadyFunc[*Record]) *eventloop.Task[*Record] {
	return startAsync(d.Stream, `read until`, priority, c, callback, func(c *cancellable.Cancellable) (*Record, error) {
		return d.readUntil(c, stops)
	})
}
