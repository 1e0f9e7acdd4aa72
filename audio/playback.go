package audio

import (
	"io"
	"sync"

	schemas "github.com/keyloom/keyloom/schemas"
)

// PlaybackConfig customizes a Playback. Zero values take the defaults.
type PlaybackConfig struct {
	SampleRate int
	Logger     schemas.Logger
}

// Playback is a buffered PCM16 output queue. Chunks are scaled by the
// current volume and written to an injected sink as little-endian bytes,
// in enqueue order. The sink is typically a speaker device writer; tests
// inject a buffer.
type Playback struct {
	sink       io.Writer
	sampleRate int
	logger     schemas.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]int16
	playing  bool
	paused   bool
	closed   bool
	position int64
	volume   float64
	writeErr error

	done chan struct{}
}

// NewPlayback starts the writer goroutine immediately. Close releases it.
func NewPlayback(sink io.Writer, cfg PlaybackConfig) *Playback {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	p := &Playback{
		sink:       sink,
		sampleRate: cfg.SampleRate,
		logger:     cfg.Logger,
		volume:     1,
		done:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// SampleRate reports the configured sample rate.
func (p *Playback) SampleRate() int { return p.sampleRate }

// Playing reports whether chunks remain to be written and playback is not
// paused.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Position reports the total number of samples written since creation or
// the last Stop.
func (p *Playback) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Err reports the first sink write failure, if any. After a write failure
// subsequent chunks are dropped.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeErr
}

// Enqueue schedules a chunk for playback.
func (p *Playback) Enqueue(samples []int16) {
	if len(samples) == 0 {
		return
	}
	chunk := make([]int16, len(samples))
	copy(chunk, samples)

	p.mu.Lock()
	if !p.closed {
		p.queue = append(p.queue, chunk)
		p.playing = true
		p.cond.Signal()
	}
	p.mu.Unlock()
}

// EnqueueBase64 decodes a base64 PCM16 payload, as received from realtime
// audio deltas, and schedules it.
func (p *Playback) EnqueueBase64(encoded string) *schemas.Error {
	samples, err := PCM16FromBase64(encoded)
	if err != nil {
		return err
	}
	p.Enqueue(samples)
	return nil
}

// Stop drops all queued chunks and resets the position counter.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.queue = nil
	p.playing = false
	p.paused = false
	p.position = 0
	p.cond.Signal()
	p.mu.Unlock()
}

// Pause suspends writes, keeping queued chunks.
func (p *Playback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume continues writing after Pause.
func (p *Playback) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Signal()
	p.mu.Unlock()
}

// SetVolume sets the playback gain, clamped to [0, 1].
func (p *Playback) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
}

// Close stops the writer goroutine and waits for it to exit. The sink is
// not closed.
func (p *Playback) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.cond.Signal()
	p.mu.Unlock()
	<-p.done
}

func (p *Playback) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for !p.closed && (len(p.queue) == 0 || p.paused || p.writeErr != nil) {
			if len(p.queue) == 0 {
				p.playing = false
			}
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		chunk := p.queue[0]
		p.queue = p.queue[1:]
		volume := p.volume
		p.mu.Unlock()

		if volume != 1 {
			scaled := make([]int16, len(chunk))
			for i, s := range chunk {
				scaled[i] = int16(float64(s) * volume)
			}
			chunk = scaled
		}

		_, err := p.sink.Write(EncodePCM16(chunk))

		p.mu.Lock()
		if err != nil {
			p.writeErr = err
			p.playing = false
			if p.logger != nil {
				p.logger.Error(err)
			}
		} else {
			p.position += int64(len(chunk))
			p.playing = len(p.queue) > 0
		}
		p.mu.Unlock()
	}
}
