//go:build gst

package sampling

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

const (
	gstSinkName    = "ifsink"
	gstChunkQueue  = 256 // buffered appsink chunks before dropping
	gstBusPoll     = 50 * time.Millisecond
	gstStartupWait = 5 * time.Second
)

// GstSource reads raw IF bytes from the appsink at the end of a GStreamer
// launch pipeline, e.g.
//
//	gst:udpsrc port=5000 ! queue
//
// The pipeline must deliver raw bytes in the configured sample format.
// Chunks arriving while the reader is behind are dropped and counted, the
// same way a live front-end overruns.
type GstSource struct {
	launch   string
	pipeline *gst.Pipeline
	sink     *app.Sink
	logger   *slog.Logger

	chunks  chan []byte
	pending []byte
	skip    int64

	eos       chan struct{}
	eosOnce   sync.Once
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	read    atomic.Uint64
	dropped atomic.Uint64
}

func openGst(launch string, skip int64, logger *slog.Logger) (Source, error) {
	if launch == "" {
		return nil, fmt.Errorf("sampling: empty GStreamer pipeline")
	}
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(launch + " ! appsink name=" + gstSinkName)
	if err != nil {
		return nil, fmt.Errorf("sampling: parse pipeline %q: %w", launch, err)
	}
	elem, err := pipeline.GetElementByName(gstSinkName)
	if err != nil {
		return nil, fmt.Errorf("sampling: appsink not found: %w", err)
	}

	s := &GstSource{
		launch:   launch,
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		logger:   logger,
		chunks:   make(chan []byte, gstChunkQueue),
		skip:     skip,
		eos:      make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("sampling: start pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	if msg := bus.TimedPop(gstStartupWait); msg != nil {
		switch msg.Type() {
		case gst.MessageError:
			pipeline.SetState(gst.StateNull)
			return nil, fmt.Errorf("sampling: pipeline failed to start: %s", msg.ParseError().Error())
		case gst.MessageEOS:
			// a short pipeline can finish before the bus watcher starts
			s.endOfStream()
		}
	}

	select {
	case <-s.eos:
	default:
		s.wg.Add(1)
		go s.watchBus(bus)
	}

	logger.Info("sampling: GStreamer input started", "pipeline", launch)
	return s, nil
}

// onNewSample copies the mapped buffer (GStreamer reuses it) and hands it to
// the reader without blocking the streaming thread.
func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.logger.Warn("sampling: failed to pull sample from appsink, skipping")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	buffer.Unmap()

	select {
	case s.chunks <- chunk:
	default:
		s.dropped.Add(1)
		s.logger.Debug("sampling: dropping chunk, reader behind", "size_bytes", len(chunk))
	}
	return gst.FlowOK
}

func (s *GstSource) watchBus(bus *gst.Bus) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		msg := bus.TimedPop(gstBusPoll)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.endOfStream()
			return
		case gst.MessageError:
			s.logger.Error("sampling: GStreamer pipeline error", "error", msg.ParseError().Error())
			s.eosOnce.Do(func() { close(s.eos) })
			return
		}
	}
}

// endOfStream lets Read drain the queued chunks and then report io.EOF.
func (s *GstSource) endOfStream() {
	s.eosOnce.Do(func() {
		s.logger.Info("sampling: end of GStreamer stream", "bytes_read", s.read.Load())
		close(s.eos)
	})
}

// next blocks for the next chunk; false at end of stream.
func (s *GstSource) next() bool {
	select {
	case c := <-s.chunks:
		s.pending = c
		return true
	case <-s.eos:
		select {
		case c := <-s.chunks:
			s.pending = c
			return true
		default:
			return false
		}
	case <-s.done:
		return false
	}
}

func (s *GstSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 || s.skip > 0 {
		if len(s.pending) == 0 && !s.next() {
			return 0, io.EOF
		}
		if s.skip > 0 {
			k := int64(len(s.pending))
			if k > s.skip {
				k = s.skip
			}
			s.pending = s.pending[k:]
			s.skip -= k
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.read.Add(uint64(n))
	return n, nil
}

// Close stops the pipeline. Idempotent.
func (s *GstSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pipeline.SetState(gst.StateNull)
		s.wg.Wait()
	})
	return err
}

func (s *GstSource) Name() string { return GstPrefix + s.launch }

func (s *GstSource) Stats() Stats {
	return Stats{BytesRead: s.read.Load(), ChunksDropped: s.dropped.Load()}
}
