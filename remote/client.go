package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/timzifer/parkgate/config"
)

// Device endpoints served by the gate controller.
const (
	StatusPath    = "/api/getStatus"
	ParamsPath    = "/api/getParams"
	SetParamsPath = "/api/setParams"
)

// Device defines the subset of gate operations required by the client core.
type Device interface {
	GetStatus(ctx context.Context) (*StatusSnapshot, error)
	GetParams(ctx context.Context) (ParameterSet, error)
	SetParams(ctx context.Context, params ParameterSet) (Ack, error)
}

// TransportError folds every way a request can fail: the network, a
// non-success status or a body that does not decode. Callers react to all of
// them the same way.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client talks to the gate controller over its HTTP API.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  zerolog.Logger
}

// New builds a client for the configured device. The client never retries;
// the next poll cycle is the retry.
func New(cfg config.DeviceConfig, logger zerolog.Logger) (*Client, error) {
	baseURL, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout()).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "device_client").Str("device", baseURL).Logger(),
	}, nil
}

// BaseURL returns the address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetStatus fetches the current sensor and actuator state.
func (c *Client) GetStatus(ctx context.Context) (*StatusSnapshot, error) {
	body, err := c.do(ctx, "getStatus", c.http.R().SetContext(ctx), resty.MethodGet, StatusPath)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeStatus(body)
	if err != nil {
		return nil, &TransportError{Op: "getStatus", Err: err}
	}
	return snap, nil
}

// GetParams fetches the runtime-tunable parameters.
func (c *Client) GetParams(ctx context.Context) (ParameterSet, error) {
	body, err := c.do(ctx, "getParams", c.http.R().SetContext(ctx), resty.MethodGet, ParamsPath)
	if err != nil {
		return nil, err
	}
	params, skipped, err := DecodeParameters(body)
	if err != nil {
		return nil, &TransportError{Op: "getParams", Err: err}
	}
	if len(skipped) > 0 {
		c.logger.Debug().Strs("keys", skipped).Msg("ignoring non-integer parameters")
	}
	return params, nil
}

// SetParams submits parameter values. Any success status is an Ack.
func (c *Client) SetParams(ctx context.Context, params ParameterSet) (Ack, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]int(params))
	body, err := c.do(ctx, "setParams", req, resty.MethodPost, SetParamsPath)
	if err != nil {
		return Ack{}, err
	}
	return decodeAck(body, params), nil
}

func (c *Client) do(ctx context.Context, op string, req *resty.Request, method, path string) ([]byte, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &TransportError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		msg := strings.TrimSpace(string(resp.Body()))
		var cause error
		if msg != "" {
			cause = errors.New(msg)
		}
		return nil, &TransportError{Op: op, Status: resp.StatusCode(), Err: cause}
	}
	return resp.Body(), nil
}
