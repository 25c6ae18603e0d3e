package deepface

import "errors"

var (
	// ErrServiceDown wraps the last transport or 5xx error once retries are spent.
	ErrServiceDown = errors.New("deepface: service down")
	// ErrMalformedReply is not retried.
	ErrMalformedReply = errors.New("deepface: malformed reply")
	// ErrNoEmbedding is returned by Embed when the reply holds no vector.
	ErrNoEmbedding = errors.New("deepface: reply carries no embedding")
	// ErrUnencodableImage covers empty images and JPEG encoder failures.
	ErrUnencodableImage = errors.New("deepface: image cannot be encoded")
)
