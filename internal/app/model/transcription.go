package model

import "io"

// DefaultLanguage is echoed back when a request carries no lang field.
const DefaultLanguage = "ja"

// TranscriptionRequest is one inbound upload.
type TranscriptionRequest struct {
	Media    io.Reader
	Filename string
	Lang     string
}

// Segment is one timestamped piece of transcript, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the response payload of a successful transcription.
type TranscriptionResult struct {
	Text     string    `json:"text"`
	File     string    `json:"file"`
	Lang     string    `json:"lang"`
	Original string    `json:"original"`
	Segments []Segment `json:"segments"`
	// Duration is the wall-clock inference time in seconds.
	Duration float64 `json:"duration"`
}
