package tracking

import "image"

// Box is an axis-aligned detection in frame coordinates. X and Y are the
// top-left corner.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromRect converts a detector rectangle.
func BoxFromRect(r image.Rectangle) Box {
	r = r.Canon()
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

func (b Box) Area() int { return b.Width * b.Height }

// Center uses truncating division, so odd sizes round toward the corner.
func (b Box) Center() image.Point {
	return image.Pt(b.X+b.Width/2, b.Y+b.Height/2)
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// SelectTarget returns the box with the strictly greatest area. On ties the
// earliest box wins. It reports false for an empty input.
func SelectTarget(boxes []Box) (Box, bool) {
	if len(boxes) == 0 {
		return Box{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}
	return best, true
}
