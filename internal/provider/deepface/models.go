package deepface

import "math"

// RepresentRequest is the body of POST /represent. Img is a data URI.
type RepresentRequest struct {
	Img              string `json:"img"`
	Model            string `json:"model_name"`
	Detector         string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
	Align            bool   `json:"align"`
}

type RepresentResponse struct {
	Results []RepresentResult `json:"results"`
}

// RepresentResult is one face. With enforce_detection off a frame without
// faces still yields one result covering the whole image.
type RepresentResult struct {
	Embedding      []float64  `json:"embedding"`
	FacialArea     FacialArea `json:"facial_area"`
	FaceConfidence float64    `json:"face_confidence"`
}

// FacialArea is the face box in pixels relative to the submitted image.
// Eye positions are only reported by backends that find landmarks.
type FacialArea struct {
	X        int     `json:"x"`
	Y        int     `json:"y"`
	W        int     `json:"w"`
	H        int     `json:"h"`
	LeftEye  *[2]int `json:"left_eye,omitempty"`
	RightEye *[2]int `json:"right_eye,omitempty"`
}

// EyeRoll returns the head roll in degrees implied by the line through
// both eyes, and false when either eye is missing.
func (a FacialArea) EyeRoll() (float64, bool) {
	if a.LeftEye == nil || a.RightEye == nil {
		return 0, false
	}
	p, q := *a.LeftEye, *a.RightEye
	if p[0] > q[0] {
		p, q = q, p
	}
	return math.Atan2(float64(q[1]-p[1]), float64(q[0]-p[0])) * 180 / math.Pi, true
}
