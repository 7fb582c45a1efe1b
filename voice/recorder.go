package voice

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"

	"insight/encoder"
)

// maxUtteranceSamples caps a single utterance at two minutes of audio.
// Anything longer is truncated and flagged on the sealed utterance.
const maxUtteranceSamples = 120 * encoder.SampleRate

var ErrRecordingOpen = errors.New("an utterance is already being recorded")

// Utterance is one sealed stretch of user speech, ready for transcription.
type Utterance struct {
	ID          uuid.UUID
	Data        []byte
	Format      string
	Samples     uint64
	IsInterrupt bool // captured while the assistant was speaking
	IsDictation bool // captured in dictation mode, not conversation
	Truncated   bool
}

// Recorder accumulates PCM into at most one open utterance at a time.
// Encoding runs on a separate goroutine so the capture callback never blocks
// on the FLAC encoder.
type Recorder struct {
	mu         sync.Mutex
	enc        encoder.Encoder
	blockChan  chan []int16
	encodeDone chan struct{}
	sampleBuf  []int16
	samples    uint64
	truncated  bool
	current    *Utterance
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Open reports whether an utterance is currently being recorded.
func (r *Recorder) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Begin opens a new utterance. It fails if one is already open.
func (r *Recorder) Begin(isInterrupt, isDictation bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return ErrRecordingOpen
	}

	enc, err := encoder.NewFlac()
	if err != nil {
		return err
	}

	r.enc = enc
	r.blockChan = make(chan []int16, 64)
	r.encodeDone = make(chan struct{})
	r.sampleBuf = nil
	r.samples = 0
	r.truncated = false
	r.current = &Utterance{
		ID:          uuid.New(),
		Format:      "flac",
		IsInterrupt: isInterrupt,
		IsDictation: isDictation,
	}

	go func(enc encoder.Encoder, blocks <-chan []int16, done chan<- struct{}) {
		defer close(done)
		for block := range blocks {
			enc.EncodeBlock(block)
		}
	}(enc, r.blockChan, r.encodeDone)

	return nil
}

// Feed appends 16-bit little-endian mono PCM to the open utterance.
// PCM fed with no utterance open is dropped.
func (r *Recorder) Feed(pcm []byte) {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		if r.samples >= maxUtteranceSamples {
			r.truncated = true
			break
		}
		r.sampleBuf = append(r.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
		r.samples++
	}
	var blocks [][]int16
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		blocks = append(blocks, block)
	}
	ch := r.blockChan
	r.mu.Unlock()

	for _, block := range blocks {
		ch <- block
	}
}

// Seal flushes and closes the open utterance and returns it.
func (r *Recorder) Seal() (*Utterance, error) {
	r.mu.Lock()
	u := r.current
	if u == nil {
		r.mu.Unlock()
		return nil, errors.New("no utterance open")
	}
	if len(r.sampleBuf) > 0 {
		partial := make([]int16, len(r.sampleBuf))
		copy(partial, r.sampleBuf)
		r.sampleBuf = nil
		r.blockChan <- partial
	}
	close(r.blockChan)
	enc, done := r.enc, r.encodeDone
	samples, truncated := r.samples, r.truncated
	r.current = nil
	r.mu.Unlock()

	<-done
	if err := enc.Close(); err != nil {
		return nil, err
	}

	u.Data = enc.Bytes()
	u.Samples = samples
	u.Truncated = truncated
	return u, nil
}

// Abort discards the open utterance, if any. Safe to call repeatedly.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return
	}
	close(r.blockChan)
	done := r.encodeDone
	r.current = nil
	r.sampleBuf = nil
	r.mu.Unlock()
	<-done
}
