package live

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var ErrCameraOpen = errors.New("Failed to open camera")

type camera struct {
	vc *gocv.VideoCapture
}

// OpenCamera opens a capture device by index.
func OpenCamera(device int) (FrameSource, error) {
	vc, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %w", ErrCameraOpen, device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("%w: device %d", ErrCameraOpen, device)
	}
	return &camera{vc: vc}, nil
}

func (c *camera) Read(frame *gocv.Mat) bool {
	return c.vc.Read(frame)
}

func (c *camera) Close() error {
	return c.vc.Close()
}

type window struct {
	w *gocv.Window
}

func NewWindow(title string) Display {
	return &window{w: gocv.NewWindow(title)}
}

func (w *window) IMShow(img gocv.Mat) {
	w.w.IMShow(img)
}

func (w *window) WaitKey(delay int) int {
	return w.w.WaitKey(delay)
}

func (w *window) Close() error {
	return w.w.Close()
}
