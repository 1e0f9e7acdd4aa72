package audio

import (
	"io"
	"sync"

	schemas "github.com/keyloom/keyloom/schemas"
)

const (
	// DefaultSampleRate matches the OpenAI realtime default of 24kHz.
	DefaultSampleRate = 24000
	// DefaultChunkSize is 200ms of audio at 24kHz.
	DefaultChunkSize = 4800
)

// SampleSource supplies raw PCM16 samples, typically backed by a microphone
// driver or a test fixture. ReadSamples follows io.Reader conventions: it
// fills buf with up to len(buf) samples and returns io.EOF when the source
// is exhausted.
type SampleSource interface {
	ReadSamples(buf []int16) (int, error)
}

// CaptureConfig customizes a Capture. Zero values take the defaults above.
type CaptureConfig struct {
	SampleRate int
	ChunkSize  int
	Logger     schemas.Logger
}

// Capture reads PCM16 samples from an injected source and fans fixed-size
// chunks plus RMS volume levels out to subscribers. Pausing drops samples
// rather than buffering them, matching push-to-talk semantics.
type Capture struct {
	source     SampleSource
	sampleRate int
	chunkSize  int
	logger     schemas.Logger

	mu        sync.Mutex
	capturing bool
	paused    bool
	stop      chan struct{}
	done      chan struct{}

	listenerMu     sync.Mutex
	nextID         int
	chunkListeners map[int]func([]int16)
	levelListeners map[int]func(float64)
}

// NewCapture wires a capture pump to the given source. Start must be called
// before any chunks flow.
func NewCapture(source SampleSource, cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Capture{
		source:         source,
		sampleRate:     cfg.SampleRate,
		chunkSize:      cfg.ChunkSize,
		logger:         cfg.Logger,
		chunkListeners: make(map[int]func([]int16)),
		levelListeners: make(map[int]func(float64)),
	}
}

// SampleRate reports the configured sample rate.
func (c *Capture) SampleRate() int { return c.sampleRate }

// Capturing reports whether the pump is running and not paused.
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing && !c.paused
}

// OnChunk subscribes to full PCM16 chunks. The returned function removes
// the subscription.
func (c *Capture) OnChunk(fn func(chunk []int16)) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.chunkListeners[id] = fn
	c.listenerMu.Unlock()
	return func() {
		c.listenerMu.Lock()
		delete(c.chunkListeners, id)
		c.listenerMu.Unlock()
	}
}

// OnLevel subscribes to per-read RMS volume levels in [0, 1].
func (c *Capture) OnLevel(fn func(level float64)) func() {
	c.listenerMu.Lock()
	id := c.nextID
	c.nextID++
	c.levelListeners[id] = fn
	c.listenerMu.Unlock()
	return func() {
		c.listenerMu.Lock()
		delete(c.levelListeners, id)
		c.listenerMu.Unlock()
	}
}

// Start launches the read pump. Calling Start on a running capture is a
// no-op. The pump stops on Stop or when the source reports an error,
// including io.EOF.
func (c *Capture) Start() {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return
	}
	c.capturing = true
	c.paused = false
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go c.pump(stop, done)
}

// Stop halts the pump and waits for it to exit.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
}

// Pause suspends chunk delivery without stopping the source reads.
func (c *Capture) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables chunk delivery after Pause.
func (c *Capture) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

func (c *Capture) pump(stop, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.capturing = false
		c.paused = false
		c.mu.Unlock()
		close(done)
	}()

	buf := make([]int16, c.chunkSize)
	chunk := make([]int16, 0, c.chunkSize)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := c.source.ReadSamples(buf)
		if n > 0 {
			c.mu.Lock()
			paused := c.paused
			c.mu.Unlock()

			if !paused {
				c.emitLevel(Level(buf[:n]))
				chunk = append(chunk, buf[:n]...)
				for len(chunk) >= c.chunkSize {
					out := make([]int16, c.chunkSize)
					copy(out, chunk[:c.chunkSize])
					chunk = append(chunk[:0], chunk[c.chunkSize:]...)
					c.emitChunk(out)
				}
			} else {
				chunk = chunk[:0]
			}
		}
		if err != nil {
			if err != io.EOF && c.logger != nil {
				c.logger.Error(err)
			}
			return
		}
	}
}

func (c *Capture) emitChunk(chunk []int16) {
	c.listenerMu.Lock()
	fns := make([]func([]int16), 0, len(c.chunkListeners))
	for _, fn := range c.chunkListeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(chunk)
	}
}

func (c *Capture) emitLevel(level float64) {
	c.listenerMu.Lock()
	fns := make([]func(float64), 0, len(c.levelListeners))
	for _, fn := range c.levelListeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(level)
	}
}
