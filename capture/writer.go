package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Signature is the first eight bytes of every decompressed capture.
const Signature = "CARLINK\x01"

// recordHeaderSize is the size of the fixed part of a record.
const recordHeaderSize = 13

// Direction is the transfer direction of a record.
type Direction uint8

// Directions.
const (
	In  Direction = 0
	Out Direction = 1
)

// String returns "in" or "out".
func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Record is one captured transfer.
type Record struct {
	Direction Direction
	Elapsed   time.Duration
	Data      []byte
}

// Writer appends records to a compressed capture. It is safe for
// concurrent use.
type Writer struct {
	mu    sync.Mutex
	enc   *zstd.Encoder
	start time.Time
	now   func() time.Time
	buf   []byte
	n     int
}

// NewWriter starts a capture on w. Close must be called to flush it.
func NewWriter(w io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.WriteString(enc, Signature); err != nil {
		enc.Close()
		return nil, fmt.Errorf("write signature: %w", err)
	}
	return &Writer{enc: enc, start: time.Now(), now: time.Now}, nil
}

// Write appends a record for data, timestamped relative to NewWriter.
func (w *Writer) Write(dir Direction, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf[:0], byte(dir))
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(w.now().Sub(w.start)))
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(data)))
	w.buf = append(w.buf, data...)
	if _, err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.n++
	return nil
}

// Records returns the number of records written.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Flush compresses buffered records into the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Flush()
}

// Close flushes the capture. It does not close the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Close()
}
