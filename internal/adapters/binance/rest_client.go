package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/arbelos/usdm/errs"
)

// nonOrderRPS caps the request rate of the account-state REST surface.
// Order placement uses a second, unlimited client.
const nonOrderRPS = 3

// RestClient executes signed and public requests against the fapi surface.
// The limiter is nil on the order-placement instance.
type RestClient struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	clock   func() time.Time
}

// NewRestClient constructs the rate-limited client used for non-order traffic.
func NewRestClient(opts Options) *RestClient {
	opts = withDefaults(opts)
	return &RestClient{
		opts:    opts,
		http:    &http.Client{Timeout: opts.httpTimeoutDuration()},
		limiter: rate.NewLimiter(rate.Limit(nonOrderRPS), nonOrderRPS),
		clock:   time.Now,
	}
}

// NewOrderRestClient constructs the unlimited client used for order placement.
// Pacing for this surface is owned by the dispatch queue.
func NewOrderRestClient(opts Options) *RestClient {
	opts = withDefaults(opts)
	return &RestClient{
		opts:    opts,
		http:    &http.Client{Timeout: opts.httpTimeoutDuration()},
		clock:   time.Now,
	}
}

func (c *RestClient) hasCredentials() bool {
	return strings.TrimSpace(c.opts.Config.APIKey) != "" && strings.TrimSpace(c.opts.Config.APISecret) != ""
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RestClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// doPublic executes an unauthenticated GET and returns the response body.
func (c *RestClient) doPublic(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errs.New(errs.CodeInvalid, errs.WithMessage("endpoint not configured"))
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	full := endpoint
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.httpTimeoutDuration())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.execute(req)
}

// doSigned executes an authenticated request. Params are signed with the
// account secret and sent in the query string for every method.
func (c *RestClient) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errs.New(errs.CodeInvalid, errs.WithMessage("endpoint not configured"))
	}
	if !c.hasCredentials() {
		return nil, errs.New(errs.CodeInvalid, errs.WithMessage("missing api credentials"))
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	if c.opts.recvWindowDuration() > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.opts.recvWindowDuration().Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(c.clock().UTC().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + signPayload(query, c.opts.Config.APISecret)

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.httpTimeoutDuration())
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Config.APIKey)
	return c.execute(req)
}

func (c *RestClient) execute(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(errs.CodeNetwork, errs.WithMessage(req.URL.Path), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errs.New(errs.CodeNetwork, errs.WithMessage("read response"), errs.WithCause(err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, venueError(resp.StatusCode, body)
	}
	return body, nil
}

type venueErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func venueError(status int, body []byte) error {
	var apiErr venueErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return errs.New(errs.CodeVenue,
			errs.WithHTTP(status),
			errs.WithRawCode(strconv.Itoa(apiErr.Code)),
			errs.WithRawMessage(apiErr.Msg))
	}
	trimmed := strings.TrimSpace(string(body))
	return errs.New(errs.CodeVenue, errs.WithHTTP(status), errs.WithRawMessage(trimmed))
}
