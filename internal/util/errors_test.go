package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type teapot struct{}

func (teapot) Error() string   { return "teapot" }
func (teapot) HTTPStatus() int { return http.StatusTeapot }

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
	require.Equal(t, http.StatusNotFound, StatusOf(NotFound("event not found")))
	require.Equal(t, http.StatusConflict, StatusOf(fmt.Errorf("wrap: %w", Conflict("taken"))))
	require.Equal(t, http.StatusTeapot, StatusOf(fmt.Errorf("wrap: %w", teapot{})))
	require.Equal(t, http.StatusInternalServerError, StatusOf(&Error{Status: 200, Message: "odd"}))
}

func TestWriteErrHidesServerMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, errors.New("pq: connection refused"), "rid-1")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "Internal Server Error", body.Message)
	require.Equal(t, "rid-1", body.RequestID)

	rec = httptest.NewRecorder()
	WriteErr(rec, NewError(http.StatusBadRequest, "event_code is required", errors.New("validation")), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"success":false,"message":"event_code is required"}`, rec.Body.String())
}
