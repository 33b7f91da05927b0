package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"pantilt-tracker/internal/tracking"
)

var errForeignFrame = errors.New("frame was not captured by vision.Camera")

// CascadeDetector finds objects with a Haar/LBP cascade.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
}

var _ tracking.Detector = (*CascadeDetector)(nil)

// NewCascadeDetector loads the cascade XML at path.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load cascade %s", path)
	}
	return &CascadeDetector{classifier: classifier, gray: gocv.NewMat()}, nil
}

func (d *CascadeDetector) Detect(frame tracking.Frame) ([]tracking.Box, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, errForeignFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	gocv.CvtColor(f.mat, &d.gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(d.gray, &d.gray)
	return boxesFromRects(d.classifier.DetectMultiScale(d.gray)), nil
}

func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gray.Close()
	return d.classifier.Close()
}

func boxesFromRects(rects []image.Rectangle) []tracking.Box {
	boxes := make([]tracking.Box, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, tracking.BoxFromRect(r))
	}
	return boxes
}
