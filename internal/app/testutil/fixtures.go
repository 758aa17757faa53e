package testutil

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kotoba-transcriber/internal/app/api/provider"
)

// SampleText is the aggregate transcript of SampleOutput
const SampleText = "こんにちは。今日は<いい>天気ですね。"

// SampleOutput returns a two-chunk result in the order the model emits it
func SampleOutput() *provider.Output {
	return &provider.Output{
		Text: SampleText,
		Chunks: []provider.Chunk{
			{Timestamp: [2]*float64{provider.Seconds(0), provider.Seconds(1.5)}, Text: "こんにちは。"},
			{Timestamp: [2]*float64{provider.Seconds(1.5), provider.Seconds(3.2)}, Text: "今日は<いい>天気ですね。"},
		},
	}
}

// OpenEndedOutput returns a result whose last chunk has no end timestamp
func OpenEndedOutput() *provider.Output {
	return &provider.Output{
		Text: "はい。それでは",
		Chunks: []provider.Chunk{
			{Timestamp: [2]*float64{provider.Seconds(0), provider.Seconds(0.8)}, Text: "はい。"},
			{Timestamp: [2]*float64{provider.Seconds(0.8), nil}, Text: "それでは"},
		},
	}
}

// WriteMediaFile creates a small file standing in for uploaded media
func WriteMediaFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVEfmt "), 0644))
	return path
}

// MultipartUpload builds a multipart body. An empty fileField omits the file
// part; fields are added as plain form values.
func MultipartUpload(t *testing.T, fileField, filename string, content []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}
