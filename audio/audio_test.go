package audio

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	schemas "github.com/keyloom/keyloom/schemas"
)

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	decoded, err := DecodePCM16(EncodePCM16(samples))
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("length = %d, want %d", len(decoded), len(samples))
	}
	for i, s := range samples {
		if decoded[i] != s {
			t.Errorf("sample %d = %d, want %d", i, decoded[i], s)
		}
	}
}

func TestDecodePCM16OddLength(t *testing.T) {
	_, err := DecodePCM16([]byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Fatal("expected error for odd byte count")
	}
	if err.Code != schemas.ErrCodeDecode {
		t.Errorf("code = %q, want %q", err.Code, schemas.ErrCodeDecode)
	}
}

func TestPCM16Base64RoundTrip(t *testing.T) {
	samples := []int16{100, -200, 300}
	decoded, err := PCM16FromBase64(PCM16ToBase64(samples))
	if err != nil {
		t.Fatalf("PCM16FromBase64: %v", err)
	}
	for i, s := range samples {
		if decoded[i] != s {
			t.Errorf("sample %d = %d, want %d", i, decoded[i], s)
		}
	}

	if _, err := PCM16FromBase64("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestFloat32ToPCM16Clamps(t *testing.T) {
	out := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32768, 32767, -32768, 16383}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d = %d, want %d", i, out[i], w)
		}
	}
}

func TestLevel(t *testing.T) {
	if got := Level(nil); got != 0 {
		t.Errorf("Level(nil) = %v, want 0", got)
	}
	if got := Level([]int16{0, 0, 0}); got != 0 {
		t.Errorf("silence level = %v, want 0", got)
	}
	got := Level([]int16{16384, -16384, 16384, -16384})
	if math.Abs(got-0.5) > 0.001 {
		t.Errorf("level = %v, want ~0.5", got)
	}
}

// sliceSource feeds a fixed sample buffer in reads of at most readSize.
type sliceSource struct {
	mu       sync.Mutex
	samples  []int16
	readSize int
}

func (s *sliceSource) ReadSamples(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0, io.EOF
	}
	n := len(buf)
	if s.readSize > 0 && n > s.readSize {
		n = s.readSize
	}
	if n > len(s.samples) {
		n = len(s.samples)
	}
	copy(buf, s.samples[:n])
	s.samples = s.samples[n:]
	return n, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCaptureChunking(t *testing.T) {
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = int16(i + 1)
	}
	source := &sliceSource{samples: samples, readSize: 3}
	capture := NewCapture(source, CaptureConfig{ChunkSize: 4})

	var mu sync.Mutex
	var chunks [][]int16
	var levels int
	capture.OnChunk(func(chunk []int16) {
		mu.Lock()
		chunks = append(chunks, chunk)
		mu.Unlock()
	})
	capture.OnLevel(func(float64) {
		mu.Lock()
		levels++
		mu.Unlock()
	})

	capture.Start()
	waitFor(t, func() bool { return !capture.Capturing() })

	mu.Lock()
	defer mu.Unlock()
	// 10 samples in chunks of 4: two full chunks, the trailing 2 dropped.
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0][0] != 1 || chunks[0][3] != 4 {
		t.Errorf("first chunk = %v", chunks[0])
	}
	if chunks[1][0] != 5 || chunks[1][3] != 8 {
		t.Errorf("second chunk = %v", chunks[1])
	}
	if levels == 0 {
		t.Error("expected volume level callbacks")
	}
}

func TestCapturePauseDropsSamples(t *testing.T) {
	gate := make(chan struct{})
	source := &gatedSource{gate: gate, inner: &sliceSource{samples: make([]int16, 100)}}
	capture := NewCapture(source, CaptureConfig{ChunkSize: 10})

	var mu sync.Mutex
	var chunks int
	capture.OnChunk(func([]int16) {
		mu.Lock()
		chunks++
		mu.Unlock()
	})

	capture.Start()
	capture.Pause()
	close(gate)
	waitFor(t, func() bool { return !capture.Capturing() })
	capture.Stop()

	mu.Lock()
	defer mu.Unlock()
	if chunks != 0 {
		t.Errorf("chunks delivered while paused = %d, want 0", chunks)
	}
}

// gatedSource blocks every read until the gate channel closes.
type gatedSource struct {
	gate  chan struct{}
	inner *sliceSource
}

func (s *gatedSource) ReadSamples(buf []int16) (int, error) {
	<-s.gate
	return s.inner.ReadSamples(buf)
}

// blockingSource never returns until closed, so Stop has to interrupt it.
type blockingSource struct {
	release chan struct{}
}

func (s *blockingSource) ReadSamples(buf []int16) (int, error) {
	<-s.release
	return 0, io.EOF
}

func TestCaptureStop(t *testing.T) {
	source := &blockingSource{release: make(chan struct{})}
	capture := NewCapture(source, CaptureConfig{})
	capture.Start()
	if !capture.Capturing() {
		t.Fatal("capture should be running")
	}
	close(source.release)
	capture.Stop()
	if capture.Capturing() {
		t.Error("capture still running after Stop")
	}
}

// syncBuffer guards a bytes.Buffer for cross-goroutine writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func TestPlaybackWritesQueueInOrder(t *testing.T) {
	sink := &syncBuffer{}
	playback := NewPlayback(sink, PlaybackConfig{})
	defer playback.Close()

	playback.Enqueue([]int16{1, 2})
	playback.Enqueue([]int16{3, 4})
	waitFor(t, func() bool { return playback.Position() == 4 })

	samples, err := DecodePCM16(sink.Bytes())
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := []int16{1, 2, 3, 4}
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("sample %d = %d, want %d", i, samples[i], w)
		}
	}
}

func TestPlaybackVolume(t *testing.T) {
	sink := &syncBuffer{}
	playback := NewPlayback(sink, PlaybackConfig{})
	defer playback.Close()

	playback.SetVolume(0.5)
	playback.Enqueue([]int16{1000, -1000})
	waitFor(t, func() bool { return playback.Position() == 2 })

	samples, _ := DecodePCM16(sink.Bytes())
	if samples[0] != 500 || samples[1] != -500 {
		t.Errorf("scaled samples = %v, want [500 -500]", samples)
	}
}

func TestPlaybackPauseResume(t *testing.T) {
	sink := &syncBuffer{}
	playback := NewPlayback(sink, PlaybackConfig{})
	defer playback.Close()

	playback.Pause()
	playback.Enqueue([]int16{7})
	time.Sleep(20 * time.Millisecond)
	if playback.Position() != 0 {
		t.Fatal("chunk written while paused")
	}

	playback.Resume()
	waitFor(t, func() bool { return playback.Position() == 1 })
}

func TestPlaybackStopClearsQueue(t *testing.T) {
	sink := &syncBuffer{}
	playback := NewPlayback(sink, PlaybackConfig{})
	defer playback.Close()

	playback.Pause()
	playback.Enqueue([]int16{1})
	playback.Enqueue([]int16{2})
	playback.Stop()
	playback.Resume()

	time.Sleep(20 * time.Millisecond)
	if playback.Position() != 0 {
		t.Errorf("position = %d, want 0 after Stop", playback.Position())
	}
	if playback.Playing() {
		t.Error("still playing after Stop")
	}
}

// failWriter fails every write.
type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("device gone") }

func TestPlaybackSinkError(t *testing.T) {
	playback := NewPlayback(failWriter{}, PlaybackConfig{})
	defer playback.Close()

	playback.Enqueue([]int16{1})
	waitFor(t, func() bool { return playback.Err() != nil })
	if playback.Position() != 0 {
		t.Errorf("position advanced past failed write: %d", playback.Position())
	}
}

func TestPlaybackEnqueueBase64Invalid(t *testing.T) {
	playback := NewPlayback(&syncBuffer{}, PlaybackConfig{})
	defer playback.Close()

	if err := playback.EnqueueBase64("%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDecodeMP3Invalid(t *testing.T) {
	_, _, err := DecodeMP3(strings.NewReader("definitely not an mp3 payload"))
	if err == nil {
		t.Fatal("expected error for invalid mp3 data")
	}
	if err.Code != schemas.ErrCodeDecode {
		t.Errorf("code = %q, want %q", err.Code, schemas.ErrCodeDecode)
	}
}
