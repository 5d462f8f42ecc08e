package peerconn

import (
	"bytes"
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	pp "github.com/coriolis-labs/swarmcore/peer_protocol"
)

// writeBufferHighWaterLen caps how much we'll coalesce before forcing a
// flush, bounding memory per connection regardless of how fast
// fillWriteBuffer is called.
const writeBufferHighWaterLen = 1 << 15

// msgWriterBuffer tracks how many of its buffered bytes are PIECE payload,
// for upload-rate accounting independent of protocol overhead.
type msgWriterBuffer struct {
	pieceDataBytes int
	bytes.Buffer
}

// MsgWriter is a single goroutine's buffered message sender: callers
// enqueue messages via Write, a background loop coalesces short bursts
// of Write calls before flushing to the socket, and emits a keep-alive
// if the connection goes locally silent for KeepAliveTimeout (spec
// §4.9).
type MsgWriter struct {
	FillWriteBuffer func()
	Closed          *chansync.SetOnce
	Logger          log.Logger
	W               io.Writer
	KeepAlive       func() bool

	mu          sync.Mutex
	writeCond   chansync.BroadcastCond
	writeBuffer *msgWriterBuffer

	TotalBytesWritten     int64
	TotalDataBytesWritten int64
	DataUploadRate        float64

	lastBufferFill time.Time
	MinFillGap     time.Duration
}

// NewMsgWriter wires a MsgWriter ready for Run.
func NewMsgWriter(w io.Writer, closed *chansync.SetOnce, logger log.Logger, keepAlive func() bool, fillWriteBuffer func()) *MsgWriter {
	return &MsgWriter{
		W:               w,
		Closed:          closed,
		Logger:          logger,
		KeepAlive:       keepAlive,
		FillWriteBuffer: fillWriteBuffer,
		writeBuffer:     new(msgWriterBuffer),
		MinFillGap:      10 * time.Millisecond,
	}
}

// Write enqueues msg for the next flush, returning false if the buffer has
// crossed its high-water mark (a backpressure signal to slow down further
// enqueues).
func (w *MsgWriter) Write(msg pp.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	wire, err := msg.MarshalBinary()
	if err == nil {
		w.writeBuffer.Write(wire)
		w.writeBuffer.pieceDataBytes += len(msg.Piece)
	}
	w.writeCond.Broadcast()
	return w.writeBuffer.Len() < writeBufferHighWaterLen
}

// Run flushes the buffer to W until Closed fires, coalescing writes that
// land within MinFillGap of each other to bound lock frequency under
// heavy piece traffic.
func (w *MsgWriter) Run(keepAliveTimeout time.Duration) {
	lastWrite := time.Now()
	keepAliveTimer := time.NewTimer(keepAliveTimeout)
	defer keepAliveTimer.Stop()
	frontBuf := new(msgWriterBuffer)

	for {
		if w.Closed.IsSet() {
			return
		}

		w.mu.Lock()
		bufferHasSpace := w.writeBuffer.Len() < writeBufferHighWaterLen
		shouldCoalesce := w.MinFillGap > 0 && time.Since(w.lastBufferFill) < w.MinFillGap
		w.mu.Unlock()

		if bufferHasSpace && !shouldCoalesce && w.FillWriteBuffer != nil {
			w.FillWriteBuffer()
			w.mu.Lock()
			w.lastBufferFill = time.Now()
			w.mu.Unlock()
		}

		w.mu.Lock()
		bufferEmpty := w.writeBuffer.Len() == 0
		if bufferEmpty && time.Since(lastWrite) >= keepAliveTimeout && w.KeepAlive != nil && w.KeepAlive() {
			w.writeBuffer.Write(pp.Message{Keepalive: true}.MustMarshalBinary())
			bufferEmpty = false
		}
		if bufferEmpty {
			writeCond := w.writeCond.Signaled()
			w.mu.Unlock()
			select {
			case <-w.Closed.Done():
			case <-writeCond:
			case <-keepAliveTimer.C:
			}
			continue
		}
		frontBuf, w.writeBuffer = w.writeBuffer, frontBuf
		w.mu.Unlock()

		startedWriting := time.Now()
		startingLen := frontBuf.Len()
		buf := frontBuf.Bytes()
		var err error
		for len(buf) > 0 {
			n, writeErr := w.W.Write(buf)
			if n > 0 {
				buf = buf[n:]
				frontBuf.Next(n)
			}
			if writeErr != nil {
				err = writeErr
				break
			}
			if n == 0 {
				err = io.ErrShortWrite
				break
			}
		}
		if err != nil {
			w.Logger.WithDefaultLevel(log.Debug).Printf("peerconn: write error: %v", err)
			return
		}

		writeDuration := time.Since(startedWriting)
		w.mu.Lock()
		if writeDuration.Seconds() > 0 {
			w.DataUploadRate = float64(frontBuf.pieceDataBytes) / writeDuration.Seconds()
		}
		w.TotalBytesWritten += int64(startingLen)
		w.TotalDataBytesWritten += int64(frontBuf.pieceDataBytes)
		w.mu.Unlock()
		frontBuf.pieceDataBytes = 0
		lastWrite = time.Now()
		keepAliveTimer.Reset(keepAliveTimeout)
	}
}
