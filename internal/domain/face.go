package domain

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
)

// BoundingBox is a face region in frame pixel coordinates. It serialises as
// [x1, y1, x2, y2].
type BoundingBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

// MinDim is the smaller of width and height.
func (b BoundingBox) MinDim() int {
	return min(b.Width(), b.Height())
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Clamp restricts every coordinate to [0,width] x [0,height].
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	return BoundingBox{
		X1: clampInt(b.X1, 0, width),
		Y1: clampInt(b.Y1, 0, height),
		X2: clampInt(b.X2, 0, width),
		Y2: clampInt(b.Y2, 0, height),
	}
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords []int
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) != 4 {
		return fmt.Errorf("bounding box: want 4 coordinates, got %d", len(coords))
	}
	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Pose holds head orientation angles in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// MaxAngle is the largest absolute angle of the three axes.
func (p Pose) MaxAngle() float64 {
	return math.Max(math.Abs(p.Pitch), math.Max(math.Abs(p.Yaw), math.Abs(p.Roll)))
}

// DetectedFace is one face reported by a detector for a single frame.
// Pose is nil when the detector does not estimate head orientation and
// Embedding is empty when no usable embedding was produced.
type DetectedFace struct {
	Box        BoundingBox `json:"bbox"`
	Embedding  []float64   `json:"-"`
	Pose       *Pose       `json:"pose,omitempty"`
	Confidence float64     `json:"confidence"`
}

// HasEmbedding reports whether the face carries a non-empty embedding.
func (f DetectedFace) HasEmbedding() bool {
	return len(f.Embedding) > 0
}
