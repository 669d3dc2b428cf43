package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/personachain/identity-relayer/relayer"
	"go.uber.org/zap"
)

var (
	RtyAttNum = uint(3)
	RtyAtt    = retry.Attempts(RtyAttNum)
	RtyDel    = retry.Delay(time.Millisecond * 400)
	RtyErr    = retry.LastErrorOnly(true)
)

// RelayPath is the path, relative to a relayer's endpoint, that accepts packets.
const RelayPath = "/relay"

// RelayRequest is the body posted to a relayer endpoint.
type RelayRequest struct {
	RelayerID string         `json:"relayer_id"`
	Packet    relayer.Packet `json:"packet"`
}

// HTTP relays packets by posting them to the relayer's endpoint.
type HTTP struct {
	log    *zap.Logger
	client *http.Client
}

// NewHTTP returns an HTTP transport. A nil client uses a client with the given timeout.
func NewHTTP(log *zap.Logger, client *http.Client, timeout time.Duration) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{
		log:    log.With(zap.String("sys", "transport"), zap.String("transport", "http")),
		client: client,
	}
}

type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("relayer responded %d: %s", e.code, e.body)
}

func (t *HTTP) Relay(ctx context.Context, packet relayer.Packet, r relayer.Relayer) (relayer.Acknowledgement, error) {
	if r.Endpoint == "" {
		return relayer.Acknowledgement{}, fmt.Errorf("relayer %s has no endpoint", r.ID)
	}

	body, err := json.Marshal(RelayRequest{RelayerID: r.ID, Packet: packet})
	if err != nil {
		return relayer.Acknowledgement{}, err
	}
	url := strings.TrimSuffix(r.Endpoint, "/") + RelayPath

	var ack relayer.Acknowledgement
	if err := retry.Do(func() error {
		var err error
		ack, err = t.post(ctx, url, body)
		return err
	}, retry.Context(ctx), RtyAtt, RtyDel, RtyErr, retry.RetryIf(isRetryable), retry.OnRetry(func(n uint, err error) {
		t.log.Info(
			"Failed to relay packet over http",
			zap.String("relayer_id", r.ID),
			zap.String("packet_key", packet.Key()),
			zap.Uint("attempt", n+1),
			zap.Uint("max_attempts", RtyAttNum),
			zap.Error(err),
		)
	})); err != nil {
		return relayer.Acknowledgement{}, err
	}
	return ack, nil
}

func (t *HTTP) post(ctx context.Context, url string, body []byte) (relayer.Acknowledgement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return relayer.Acknowledgement{}, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return relayer.Acknowledgement{}, err
	}
	defer resp.Body.Close()

	bz, err := io.ReadAll(io.LimitReader(resp.Body, relayer.MaxPacketDataSize))
	if err != nil {
		return relayer.Acknowledgement{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return relayer.Acknowledgement{}, statusError{code: resp.StatusCode, body: strings.TrimSpace(string(bz))}
	}

	var ack relayer.Acknowledgement
	if err := json.Unmarshal(bz, &ack); err != nil {
		return relayer.Acknowledgement{}, retry.Unrecoverable(fmt.Errorf("invalid acknowledgement: %w", err))
	}
	return ack, nil
}

// isRetryable retries network errors and server side failures, but not client errors.
func isRetryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}
