// Package pcm holds the pure audio transforms used by the voice pipeline.
// All buffers are raw little-endian signed 16-bit samples; sample rate and
// channel count are implied by the caller.
package pcm

import (
	"encoding/binary"
	"io"
	"math"
)

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// catmullRom evaluates the Catmull-Rom spline through p1..p2 at t.
func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// Resample24To48 doubles the sample rate of mono PCM. Even output indices carry the
// input samples unchanged; odd indices carry the cubic midpoint between input i and
// i+1, with edge samples replicated past both ends.
func Resample24To48(data []byte) []byte {
	in := BytesToSamples(data)
	n := len(in)
	if n == 0 {
		return []byte{}
	}

	at := func(i int) float64 {
		if i < 0 {
			i = 0
		}
		if i >= n {
			i = n - 1
		}
		return float64(in[i])
	}

	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		out[2*i] = in[i]
		out[2*i+1] = clamp16(catmullRom(at(i-1), at(i), at(i+1), at(i+2), 0.5))
	}
	return SamplesToBytes(out)
}

// ChunkIntoFrames splits data into frames of exactly frameBytes. The last frame is
// zero-padded when data does not divide evenly. Empty input yields no frames.
func ChunkIntoFrames(data []byte, frameBytes int) [][]byte {
	if len(data) == 0 || frameBytes <= 0 {
		return [][]byte{}
	}

	count := (len(data) + frameBytes - 1) / frameBytes
	frames := make([][]byte, 0, count)
	for off := 0; off < len(data); off += frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, data[off:])
		frames = append(frames, frame)
	}
	return frames
}

// MonoToStereo duplicates each mono sample into the left and right channels.
func MonoToStereo(data []byte) []byte {
	even := data[:len(data)&^1]
	out := make([]byte, len(even)*2)
	for i := 0; i < len(even); i += 2 {
		out[i*2] = even[i]
		out[i*2+1] = even[i+1]
		out[i*2+2] = even[i]
		out[i*2+3] = even[i+1]
	}
	return out
}

// StereoToMono averages interleaved left/right samples.
func StereoToMono(data []byte) []byte {
	samples := BytesToSamples(data)
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return SamplesToBytes(mono)
}

// Downsample48To24 halves the sample rate of mono PCM by averaging sample pairs.
func Downsample48To24(data []byte) []byte {
	samples := BytesToSamples(data)
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return SamplesToBytes(out)
}

// Stereo48ToMono24 converts Discord capture audio to the realtime agent input format.
func Stereo48ToMono24(data []byte) []byte {
	return Downsample48To24(StereoToMono(data))
}

// ApplyGain scales every sample by gain, clamping to the int16 range. A gain of 1
// returns a copy of the input.
func ApplyGain(data []byte, gain float64) []byte {
	samples := BytesToSamples(data)
	if gain != 1 {
		for i, s := range samples {
			samples[i] = clamp16(float64(s) * gain)
		}
	}
	return SamplesToBytes(samples)
}

// FrameReader is a lazy, finite, single-pass sequence of frames.
// Once drained it stays drained.
type FrameReader struct {
	frames [][]byte
	next   int
	// partial holds the unread tail of a frame consumed through Read
	partial []byte
}

// NewFrameReader wraps frames for one pass of consumption.
func NewFrameReader(frames [][]byte) *FrameReader {
	return &FrameReader{frames: frames}
}

// Next returns the next frame, or false once the sequence is exhausted.
func (r *FrameReader) Next() ([]byte, bool) {
	if r.next >= len(r.frames) {
		return nil, false
	}
	frame := r.frames[r.next]
	r.frames[r.next] = nil
	r.next++
	return frame, true
}

// Remaining reports how many whole frames have not been consumed yet.
func (r *FrameReader) Remaining() int {
	return len(r.frames) - r.next
}

// Read implements io.Reader over the concatenated frames.
func (r *FrameReader) Read(p []byte) (int, error) {
	if len(r.partial) == 0 {
		frame, ok := r.Next()
		if !ok {
			return 0, io.EOF
		}
		r.partial = frame
	}
	n := copy(p, r.partial)
	r.partial = r.partial[n:]
	return n, nil
}
