package audio

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Stream is an already-opened microphone stream delivering mono samples in
// [-1,1]. The channel is closed when the stream ends.
type Stream interface {
	Chunks() <-chan []float32
	Close() error
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// PCMReaderSource reads raw PCM16 mono from a reader, for example a pipe from
// an external capture tool, and exposes it as a Stream.
type PCMReaderSource struct {
	r      io.Reader
	chunks chan []float32
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewPCMReaderSource starts reading immediately in chunks of chunkSamples.
func NewPCMReaderSource(r io.Reader, chunkSamples int, logger zerolog.Logger) *PCMReaderSource {
	if chunkSamples <= 0 {
		chunkSamples = 512
	}
	s := &PCMReaderSource{
		r:      r,
		chunks: make(chan []float32, 8),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "audio-source").Logger(),
	}
	go s.read(chunkSamples)
	return s
}

func (s *PCMReaderSource) Chunks() <-chan []float32 {
	return s.chunks
}

// Close stops delivery and closes the reader when it is an io.Closer.
func (s *PCMReaderSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (s *PCMReaderSource) read(chunkSamples int) {
	defer close(s.chunks)

	buf := make([]byte, chunkSamples*2)
	for {
		n, err := io.ReadFull(s.r, buf)
		if n > 1 {
			select {
			case s.chunks <- DecodePCM16(buf[:n]):
			case <-s.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case <-s.done:
				default:
					s.logger.Warn().Err(err).Msg("PCM read failed")
				}
			}
			return
		}
	}
}
