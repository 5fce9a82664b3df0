package capture

import (
	"fmt"
	"image"
	"io"
	"time"
)

// Frame is a captured, timestamped unit of media.
//
// Exactly one of Image, Samples or Payload is set. Payload marks the frame as
// already encoded; encoders must forward it untouched.
type Frame struct {
	Kind Kind
	// PTS is expressed in 1/ClockRate units.
	PTS       int64
	ClockRate int
	Duration  time.Duration

	// Image holds a raw 4:2:0 picture.
	Image *image.YCbCr

	// Samples holds interleaved signed 16-bit PCM.
	Samples     []byte
	SampleRate  int
	Channels    int
	SampleCount int

	Payload [][]byte
}

// Encoded reports whether the frame carries a pre-encoded payload.
func (f *Frame) Encoded() bool {
	return f.Payload != nil
}

// Timestamp converts the PTS to a duration since the start of the stream.
func (f *Frame) Timestamp() time.Duration {
	if f.ClockRate <= 0 {
		return 0
	}
	return time.Duration(f.PTS) * time.Second / time.Duration(f.ClockRate)
}

// PlaneSizes returns the luma and per-chroma plane sizes of an I420 picture.
func PlaneSizes(width, height int) (y, c int) {
	return width * height, (width / 2) * (height / 2)
}

// I420Size returns the byte size of a contiguous I420 frame.
func I420Size(width, height int) int {
	y, c := PlaneSizes(width, height)
	return y + 2*c
}

// PCMSize returns the byte size of samples interleaved s16 frames.
func PCMSize(samples, channels int) int {
	return samples * channels * 2
}

// newYCbCr copies a contiguous I420 buffer into a freshly allocated picture.
func newYCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	ySize, cSize := PlaneSizes(width, height)
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("i420 buffer too small: %d < %d", len(data), ySize+2*cSize)
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])
	copy(img.Cb, data[ySize:ySize+cSize])
	copy(img.Cr, data[ySize+cSize:ySize+2*cSize])
	return img, nil
}

// WriteI420 writes a 4:2:0 picture as contiguous planes, honoring strides.
func WriteI420(w io.Writer, img *image.YCbCr) error {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	cw, ch := width/2, height/2
	for row := 0; row < height; row++ {
		off := row * img.YStride
		if _, err := w.Write(img.Y[off : off+width]); err != nil {
			return err
		}
	}
	for _, plane := range [][]byte{img.Cb, img.Cr} {
		for row := 0; row < ch; row++ {
			off := row * img.CStride
			if _, err := w.Write(plane[off : off+cw]); err != nil {
				return err
			}
		}
	}
	return nil
}
