// Package wire implements a framed message codec over a byte stream.
// Each frame is a 4-byte big-endian length prefix followed by the frame body.
// A Framer owns one stream: its write side is guarded by a mutex so that
// concurrent writers never interleave partial frames, and its read side is
// consumed by a single read loop.
package wire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// FrameHeaderSize is the length of the frame length prefix in bytes.
	FrameHeaderSize = 4

	// DefaultMaxFrameSize is the frame size limit applied when none is configured.
	DefaultMaxFrameSize = 10 * 1024 * 1024 // 10 MB
)

// ErrFrameTooLarge is returned when a frame exceeds the configured maximum,
// in either direction.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Frame is one unit read from the stream. Exactly one of Data and Err is set;
// a Frame carrying Err is the last one delivered before the read channel closes.
type Frame struct {
	Data []byte
	Err  error
}

// Framer frames outbound messages onto a writer and unframes inbound messages
// from a reader. The same maximum frame size is enforced in both directions.
type Framer struct {
	reader io.Reader
	writer io.Writer

	writerLock sync.Mutex

	maxFrameSize int
}

// NewFramer creates a Framer over the given stream halves. A non-positive
// maxFrameSize selects DefaultMaxFrameSize.
func NewFramer(reader io.Reader, writer io.Writer, maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{
		reader:       reader,
		writer:       writer,
		maxFrameSize: maxFrameSize,
	}
}

// MaxFrameSize returns the frame size limit enforced by this Framer.
func (f *Framer) MaxFrameSize() int {
	return f.maxFrameSize
}

// WriteFrame writes one frame onto the stream. Concurrent calls are safe:
// the header and body are written under a single lock so frames from
// different writers never interleave.
func (f *Framer) WriteFrame(ctx context.Context, data []byte) error {
	if len(data) > f.maxFrameSize {
		return fmt.Errorf("frame length %d exceeds maximum %d: %w", len(data), f.maxFrameSize, ErrFrameTooLarge)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.writerLock.Lock()
	defer f.writerLock.Unlock()

	if f.writer == nil {
		return fmt.Errorf("writer is nil")
	}

	var header [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))

	if _, err := f.writer.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(data) > 0 {
		if _, err := f.writer.Write(data); err != nil {
			return fmt.Errorf("failed to write frame body: %w", err)
		}
	}

	return nil
}

// ReadFrames starts the read loop and returns the channel it feeds.
// The channel is closed on clean end of stream; any read failure is delivered
// as a final Frame with Err set before the channel closes. The loop stops when
// ctx is cancelled. ReadFrames must be called at most once per Framer.
func (f *Framer) ReadFrames(ctx context.Context) <-chan *Frame {
	const readBufferLength = 64
	ch := make(chan *Frame, readBufferLength)

	go func() {
		defer close(ch)

		header := make([]byte, FrameHeaderSize)
		done := ctx.Done()

		for {
			select {
			case <-done:
				return
			default:
			}

			if _, err := io.ReadFull(f.reader, header); err != nil {
				if err == io.EOF {
					return // clean end of stream
				}
				f.deliver(ctx, ch, &Frame{Err: fmt.Errorf("failed to read frame header: %w", err)})
				return
			}

			length := binary.BigEndian.Uint32(header)
			if int(length) > f.maxFrameSize {
				// The stream cannot be resynchronized past an oversized frame.
				f.deliver(ctx, ch, &Frame{Err: fmt.Errorf("frame length %d exceeds maximum %d: %w", length, f.maxFrameSize, ErrFrameTooLarge)})
				return
			}

			data := make([]byte, length)
			if _, err := io.ReadFull(f.reader, data); err != nil {
				f.deliver(ctx, ch, &Frame{Err: fmt.Errorf("failed to read frame body: %w", err)})
				return
			}

			if !f.deliver(ctx, ch, &Frame{Data: data}) {
				return
			}
		}
	}()

	return ch
}

func (f *Framer) deliver(ctx context.Context, ch chan *Frame, fr *Frame) bool {
	select {
	case ch <- fr:
		return true
	case <-ctx.Done():
		return false
	}
}
