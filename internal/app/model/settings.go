package model

// ModelSettings describes how the inference pipeline was loaded.
type ModelSettings struct {
	ModelID            string `json:"model_id"`
	Device             string `json:"device"`
	Precision          string `json:"precision"`
	AttnImplementation string `json:"attn_implementation,omitempty"`
	ChunkLengthSec     int    `json:"chunk_length_s"`
	BatchSize          int    `json:"batch_size"`
	StableTS           bool   `json:"stable_ts"`
	Punctuator         bool   `json:"punctuator"`
}

// HasAccelerator reports whether the settings target a GPU device.
func (s ModelSettings) HasAccelerator() bool {
	return s.Device != "" && s.Device != "cpu"
}
