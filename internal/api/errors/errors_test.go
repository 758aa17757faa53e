package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *APIError
		want int
	}{
		{NewBadRequestError("no media file"), http.StatusBadRequest},
		{NewNotFoundError("route not found"), http.StatusNotFound},
		{NewPayloadTooLargeError("upload too large"), http.StatusRequestEntityTooLarge},
		{NewInternalError("transcription failed"), http.StatusInternalServerError},
		{NewServiceUnavailableError("shutting down"), http.StatusServiceUnavailable},
		{&APIError{Message: "no kind"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), tt.err.Message)
	}
}

func TestAPIError_JSONShape(t *testing.T) {
	err := NewBadRequestError("no media file")
	err.RequestID = "abc"

	data, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"error":"no media file"}`, string(data))
	assert.Equal(t, "no media file", err.Error())
}
