package vision

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"

	"pantilt-tracker/internal/tracking"
)

// Frame is a captured image backed by an OpenCV Mat.
type Frame struct {
	mat gocv.Mat
}

func (f *Frame) Width() int   { return f.mat.Cols() }
func (f *Frame) Height() int  { return f.mat.Rows() }
func (f *Frame) Empty() bool  { return f.mat.Empty() }
func (f *Frame) Close() error { return f.mat.Close() }

var _ tracking.Frame = (*Frame)(nil)

// Camera reads frames from a local device index or a stream URL.
type Camera struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
}

var _ tracking.FrameSource = (*Camera)(nil)

// OpenCamera opens source, either a device index ("0") or a URL/file path.
func OpenCamera(source string) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(captureTarget(source))
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s: %w", source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("camera %s did not open", source)
	}
	return &Camera{cap: vc}, nil
}

// Read grabs the next frame. A failed grab means the stream has ended.
func (c *Camera) Read(ctx context.Context) (tracking.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil, tracking.ErrEndOfStream
	}

	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok {
		mat.Close()
		return nil, tracking.ErrEndOfStream
	}
	return &Frame{mat: mat}, nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	err := c.cap.Close()
	c.cap = nil
	return err
}

// captureTarget turns a numeric source into a device id.
func captureTarget(source string) interface{} {
	if id, err := strconv.Atoi(source); err == nil && id >= 0 {
		return id
	}
	return source
}

// Probe returns the device indexes below max that open.
func Probe(max int) []int {
	var found []int
	for id := 0; id < max; id++ {
		vc, err := gocv.OpenVideoCaptureWithAPI(id, gocv.VideoCaptureAny)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			found = append(found, id)
		}
		vc.Close()
	}
	return found
}
