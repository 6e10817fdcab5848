package domain

// CaptureKind identifies the exclusive local media source.
type CaptureKind string

const (
	CaptureNone   CaptureKind = "none"
	CaptureCamera CaptureKind = "camera"
	CaptureScreen CaptureKind = "screen"
)

// CaptureConstraints mirrors the subset of getUserMedia/getDisplayMedia
// options the capture layer honors.
type CaptureConstraints struct {
	Width      int
	Height     int
	FrameRate  int
	Microphone bool
}

// DefaultCaptureConstraints matches the original client's ideal settings.
func DefaultCaptureConstraints() CaptureConstraints {
	return CaptureConstraints{
		Width:      1920,
		Height:     1080,
		FrameRate:  30,
		Microphone: true,
	}
}
