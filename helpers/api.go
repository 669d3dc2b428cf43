package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/crosschain"
)

// MaxRequestBodySize bounds api request bodies.
const MaxRequestBodySize = 1 << 20

// SuccessJSONResponse prepares data and writes a HTTP success
func SuccessJSONResponse(status int, v interface{}, w http.ResponseWriter) {
	out, err := json.Marshal(v)
	if err != nil {
		WriteErrorResponse(http.StatusInternalServerError, err, w)
		return
	}
	WriteSuccessResponse(status, out, w)
}

// WriteSuccessResponse writes a HTTP success given a status code and data
func WriteSuccessResponse(statusCode int, data []byte, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		fmt.Printf("Write failed: %v", err)
	}
}

type errorResponse struct {
	Err string `json:"err"`
}

// WriteErrorResponse writes a HTTP error given a status code and an error message
func WriteErrorResponse(statusCode int, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResponse{
		Err: err.Error(),
	}); err != nil {
		fmt.Printf("Write failed: %v", err)
	}
}

// WriteError writes err with the status code matching its kind.
func WriteError(err error, w http.ResponseWriter) {
	WriteErrorResponse(StatusCode(err), err, w)
}

// StatusCode maps relayer errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, crosschain.ErrInvalidRequest),
		errors.Is(err, relayer.ErrEmptyPacketData),
		errors.Is(err, relayer.ErrPacketDataTooLarge),
		errors.Is(err, relayer.ErrInvalidSequence),
		errors.Is(err, relayer.ErrInvalidOrdering),
		errors.Is(err, relayer.ErrUnsupportedVersion):
		return http.StatusBadRequest
	case errors.Is(err, crosschain.ErrRequestNotFound),
		errors.Is(err, relayer.ErrRelayerNotFound),
		errors.Is(err, relayer.ErrChannelNotFound),
		errors.Is(err, relayer.ErrConnectionNotFound),
		errors.Is(err, relayer.ErrPacketNotFound):
		return http.StatusNotFound
	case errors.Is(err, crosschain.ErrNoChannelAvailable),
		errors.Is(err, relayer.ErrChannelNotOpen),
		errors.Is(err, relayer.ErrInvalidChannelState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, relayer.ErrNoEligibleRelayer),
		errors.Is(err, relayer.ErrRelayFailure):
		return http.StatusBadGateway
	case errors.Is(err, relayer.ErrPacketTimedOut):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// DecodeJSONBody decodes a size limited json request body into v.
// Decoding failures wrap crosschain.ErrInvalidRequest.
func DecodeJSONBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", crosschain.ErrInvalidRequest, err)
	}
	return nil
}

// ParseLimitParam parses the limit query param, returning def when it is absent.
func ParseLimitParam(r *http.Request, def int) (int, error) {
	limitStr := strings.TrimSpace(r.URL.Query().Get("limit"))
	if len(limitStr) == 0 {
		return def, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", crosschain.ErrInvalidRequest, limitStr)
	}
	return limit, nil
}
