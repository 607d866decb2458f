package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrInvalid, http.StatusBadRequest},
		{apperrors.ErrNotFound, http.StatusNotFound},
		{apperrors.ErrLocked, http.StatusLocked},
		{apperrors.ErrInvalidPIN, http.StatusUnauthorized},
		{apperrors.ErrOffline, http.StatusServiceUnavailable},
		{apperrors.ErrPartialUpload, http.StatusBadGateway},
		{apperrors.ErrSyncTimeout, http.StatusGatewayTimeout},
		{apperrors.ErrInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(apperrors.New(tt.code, "x")))
		})
	}

	wrapped := fmt.Errorf("outer: %w", apperrors.New(apperrors.ErrNotFound, "gone"))
	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(fmt.Errorf("plain")))
}

func TestWriteErrorDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErrorDetails(rec, apperrors.New(apperrors.ErrPartialUpload, "chunk 2 failed"),
		map[string]interface{}{"audioId": "a1"})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperrors.ErrPartialUpload, body.Error.Code)
	assert.Equal(t, "a1", body.Error.Details["audioId"])
}

func TestDecodeBody_invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	var dst map[string]interface{}

	err := decodeBody(httptest.NewRecorder(), req, &dst)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestUserResolver(t *testing.T) {
	withDefault := UserResolver{Default: "u1"}
	none := UserResolver{}

	user, err := withDefault.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	user, err = none.Resolve(httptest.NewRequest(http.MethodGet, "/?user=u2", nil))
	require.NoError(t, err)
	assert.Equal(t, "u2", user)

	_, err = none.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}
