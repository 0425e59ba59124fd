package modelgen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// The text-to-3D endpoint can take up to ten minutes before returning the
// finished mesh.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrTimedOut indicates generation exceeded the client timeout.
	ErrTimedOut = errors.New("model generation timed out")
	// ErrUnreachable indicates the inference endpoint could not be reached.
	ErrUnreachable = errors.New("inference endpoint unreachable")
)

// Generator produces a 3D model from a text prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Request holds the generation parameters forwarded to the GPU endpoint.
type Request struct {
	Prompt           string `json:"prompt"`
	Seed             int    `json:"seed"`
	TextureSize      int    `json:"texture_size"`
	DecimationTarget int    `json:"decimation_target"`
}

// Result is the decoded model payload.
type Result struct {
	ModelData []byte
	Format    string
	Message   string
}

// Client calls a text-to-3D web endpoint that answers with a base64 mesh.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient builds a generation client. timeout <= 0 uses DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateResponse struct {
	Success   bool   `json:"success"`
	ModelData string `json:"model_data"`
	Format    string `json:"format"`
	Message   string `json:"message"`
}

type generateErrorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Generate runs one generation round trip.
func (c *Client) Generate(ctx context.Context, genReq Request) (Result, error) {
	if c.endpoint == "" {
		return Result{}, fmt.Errorf("generation endpoint not configured")
	}
	body, err := json.Marshal(genReq)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{}, fmt.Errorf("%w after %s", ErrTimedOut, c.httpClient.Timeout)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp generateErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		detail := errResp.Detail
		if detail == "" {
			detail = errResp.Error
		}
		if detail == "" {
			detail = resp.Status
		}
		return Result{}, fmt.Errorf("generation api error: %s", detail)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return Result{}, fmt.Errorf("decode generation response: %w", err)
	}
	if genResp.ModelData == "" {
		return Result{}, fmt.Errorf("generation returned no model data: %s", genResp.Message)
	}
	data, err := base64.StdEncoding.DecodeString(genResp.ModelData)
	if err != nil {
		return Result{}, fmt.Errorf("decode model data: %w", err)
	}
	format := strings.TrimSpace(genResp.Format)
	if format == "" {
		format = "glb"
	}
	return Result{ModelData: data, Format: format, Message: genResp.Message}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
