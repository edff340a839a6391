package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"utilitysign/internal/model"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// HTTPConfig configures the UtilitySign REST transport
type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	RetryMax int
}

// HTTPAPI implements API over the UtilitySign REST API. Only GET requests and
// requests carrying an Idempotency-Key (the create call) are retried on
// transport errors and 5xx responses; a retried create carries the same key.
// Other POSTs are sent once.
type HTTPAPI struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func NewHTTPAPI(cfg HTTPConfig, log *zap.Logger) *HTTPAPI {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = retryLogger{log.Sugar()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.CheckRetry = checkRetry

	return &HTTPAPI{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

func (a *HTTPAPI) CreateSigningRequest(ctx context.Context, input CreateInput) (*model.SigningRequest, error) {
	var req model.SigningRequest
	header := http.Header{}
	if input.IdempotencyKey != "" {
		header.Set("Idempotency-Key", input.IdempotencyKey)
	}
	if err := a.do(ctx, http.MethodPost, "/signing/requests", header, input, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (a *HTTPAPI) InitiateBankID(ctx context.Context, requestID string) (*BankIDSession, error) {
	var session BankIDSession
	body := map[string]string{"requestId": requestID}
	if err := a.do(ctx, http.MethodPost, "/bankid/initiate", nil, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (a *HTTPAPI) CheckBankIDStatus(ctx context.Context, sessionID string) (StatusResult, error) {
	var result StatusResult
	err := a.do(ctx, http.MethodGet, "/bankid/status/"+url.PathEscape(sessionID), nil, nil, &result)
	return result, err
}

func (a *HTTPAPI) CancelBankIDSession(ctx context.Context, sessionID string) error {
	return a.do(ctx, http.MethodPost, "/bankid/cancel/"+url.PathEscape(sessionID), nil, nil, nil)
}

func (a *HTTPAPI) TriggerSigningCompletion(ctx context.Context, requestID string) error {
	return a.do(ctx, http.MethodPost, "/signing/requests/"+url.PathEscape(requestID)+"/complete", nil, nil, nil)
}

func (a *HTTPAPI) LookupProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	if err := a.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, header http.Header, body, out interface{}) error {
	var payload interface{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = b
	}

	retry := method == http.MethodGet || header.Get("Idempotency-Key") != ""
	ctx = context.WithValue(ctx, retryableKey{}, retry)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, a.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

type retryableKey struct{}

// checkRetry applies the default policy to requests marked retryable in do
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if retry, _ := ctx.Value(retryableKey{}).(bool); !retry {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) > 0 {
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
	}
	if apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	return apiErr
}

// retryLogger adapts zap to retryablehttp.LeveledLogger
type retryLogger struct {
	log *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warnw(msg, keysAndValues...)
}
