package upload

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"foloup/candidate/internal/domain"
	"foloup/candidate/internal/media"
)

// Sender is the part of the realtime channel the pipeline needs.
type Sender interface {
	Connected() bool
	SaveVideoChunk(ctx context.Context, chunk domain.VideoChunk) error
}

// Options tunes the pipeline.
type Options struct {
	MimeTypes        []string
	Timeslice        time.Duration
	InitialDataDelay time.Duration
	FlushGrace       time.Duration
	StopGrace        time.Duration
}

// Pipeline records the screen stream in timed chunks, sends each chunk over
// the realtime channel and keeps every chunk for the final upload.
type Pipeline struct {
	factory media.RecorderFactory
	sender  Sender
	opts    Options

	mu         sync.Mutex
	recorder   media.Recorder
	gen        int
	responseID string
	mimeType   string
	chunks     []media.Blob
	nextIndex  int

	sends sync.WaitGroup
}

// NewPipeline creates a pipeline.
func NewPipeline(factory media.RecorderFactory, sender Sender, opts Options) *Pipeline {
	return &Pipeline{factory: factory, sender: sender, opts: opts}
}

// Start begins recording stream for responseID. It is a no-op while a
// recorder is recording or paused. Chunk numbering restarts for every new
// recorder; chunks already retained are kept for Assemble.
func (p *Pipeline) Start(responseID string, stream *media.Stream) error {
	p.mu.Lock()
	if p.recorder != nil {
		switch p.recorder.State() {
		case media.StateRecording, media.StatePaused:
			p.mu.Unlock()
			log.Printf("[upload] screen recorder already running, skipping start")
			return nil
		}
		p.recorder = nil
	}

	mimeType := media.Negotiate(p.factory, p.opts.MimeTypes)
	p.gen++
	gen := p.gen
	p.responseID = responseID
	p.nextIndex = 0

	rec, err := p.factory.NewRecorder(stream, media.RecorderOptions{
		MimeType: mimeType,
		OnData:   func(b media.Blob) { p.onData(gen, b) },
		OnStop:   func() { log.Printf("[upload] screen recorder stopped") },
	})
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("create screen recorder: %w", err)
	}
	p.recorder = rec
	p.mimeType = rec.MimeType()
	p.mu.Unlock()

	if err := rec.Start(p.opts.Timeslice); err != nil {
		return fmt.Errorf("start screen recorder: %w", err)
	}
	log.Printf("[upload] screen recorder started: %s", rec.MimeType())

	if p.opts.InitialDataDelay > 0 {
		time.AfterFunc(p.opts.InitialDataDelay, func() {
			if rec.State() == media.StateRecording {
				rec.RequestData()
			}
		})
	}
	return nil
}

// onData assigns the next index synchronously, retains the chunk and sends
// it in the background.
func (p *Pipeline) onData(gen int, b media.Blob) {
	if len(b.Data) == 0 {
		return
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	index := p.nextIndex
	p.nextIndex++
	if b.MimeType == "" {
		b.MimeType = p.mimeType
	}
	p.chunks = append(p.chunks, b)
	responseID := p.responseID
	p.mu.Unlock()

	if p.sender == nil || !p.sender.Connected() || responseID == "" {
		log.Printf("[upload] channel not connected, retained chunk %d", index)
		return
	}

	p.sends.Add(1)
	go func() {
		defer p.sends.Done()
		chunk := domain.VideoChunk{
			ResponseID:    responseID,
			Chunk:         EncodeChunk(b.Data),
			FileExtension: media.Extension(b.MimeType),
			ChunkIndex:    index,
		}
		if err := p.sender.SaveVideoChunk(context.Background(), chunk); err != nil {
			log.Printf("[upload] send chunk %d: %v", index, err)
		}
	}()
}

// Recording reports whether the screen recorder is running.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	rec := p.recorder
	p.mu.Unlock()
	return rec != nil && rec.State() != media.StateInactive
}

// Finish flushes the recorder, stops it and waits a bounded time for
// in-flight chunk sends.
func (p *Pipeline) Finish(ctx context.Context) {
	p.mu.Lock()
	rec := p.recorder
	p.mu.Unlock()
	if rec == nil {
		log.Printf("[upload] finish: no recorder")
		return
	}

	if rec.State() == media.StateRecording {
		rec.RequestData()
		sleep(ctx, p.opts.FlushGrace)
	}
	if rec.State() != media.StateInactive {
		rec.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.sends.Wait()
		close(done)
	}()

	var grace <-chan time.Time
	if p.opts.StopGrace > 0 {
		t := time.NewTimer(p.opts.StopGrace)
		defer t.Stop()
		grace = t.C
	}
	select {
	case <-done:
	case <-grace:
		log.Printf("[upload] finish: chunk sends still in flight")
	case <-ctx.Done():
	}
}

// Chunks returns how many chunks were retained.
func (p *Pipeline) Chunks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Assemble joins the retained chunks in capture order. The file takes the
// mime type of the first chunk. ok is false when nothing was recorded.
func (p *Pipeline) Assemble() (file domain.File, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.chunks) == 0 {
		return domain.File{}, false
	}

	mimeType := p.chunks[0].MimeType
	if mimeType == "" {
		mimeType = "video/webm"
	}
	size := 0
	for _, c := range p.chunks {
		size += len(c.Data)
	}
	data := make([]byte, 0, size)
	for _, c := range p.chunks {
		data = append(data, c.Data...)
	}
	return domain.File{
		Name:     "candidate-video." + media.Extension(mimeType),
		MimeType: mimeType,
		Data:     data,
	}, true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
