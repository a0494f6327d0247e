// Package etherscan provides a client for Etherscan-compatible contract
// verification APIs (Etherscan, BaseScan and their v2 multichain endpoint).
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Code formats accepted by verifysourcecode.
const (
	FormatStandardJSON = "solidity-standard-json-input"
	FormatSingleFile   = "solidity-single-file"
)

var (
	// ErrAlreadyVerified is returned when the explorer already holds
	// verified source for the address.
	ErrAlreadyVerified = errors.New("contract source code already verified")
	// ErrInvalidAPIKey is returned when the explorer rejects the API key.
	ErrInvalidAPIKey = errors.New("invalid explorer API key")
)

// APIError is a response with status "0" that is not otherwise classified.
type APIError struct {
	Action  string
	Message string
	Result  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Action, e.Message, e.Result)
}

// TransientError is a failure worth retrying later: transport errors, rate
// limits and 5xx responses.
type TransientError struct {
	Action string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Action, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client is an Etherscan-compatible API client
type Client struct {
	apiURL     string
	apiKey     string
	chainID    uint64
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRateLimit limits outgoing requests per second. Free explorer keys
// allow 5 requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(client *Client) {
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithChainID adds the chainid parameter required by multichain (v2)
// endpoints.
func WithChainID(id uint64) Option {
	return func(client *Client) {
		client.chainID = id
	}
}

// New creates a new explorer client
func New(apiURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// response is the envelope of every explorer API response.
type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (r *response) resultString() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return string(r.Result)
	}
	return s
}

// SourceCode is one entry of a getsourcecode result.
type SourceCode struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
	Library              string `json:"Library"`
	LicenseType          string `json:"LicenseType"`
	Proxy                string `json:"Proxy"`
	Implementation       string `json:"Implementation"`
}

// Verified reports whether the explorer holds source for the contract.
func (s *SourceCode) Verified() bool {
	return s.SourceCode != ""
}

// VerifyRequest is a verifysourcecode submission.
type VerifyRequest struct {
	Address string
	// Source is the Standard-JSON-Input document or the flattened source.
	Source     string
	CodeFormat string
	// ContractName is "path:Name" for Standard-JSON-Input submissions.
	ContractName     string
	CompilerVersion  string
	OptimizationUsed bool
	Runs             int
	// ConstructorArgs is the ABI-encoded argument hex without 0x.
	ConstructorArgs string
	EVMVersion      string
	LicenseType     int
}

func (r VerifyRequest) form() url.Values {
	v := url.Values{}
	v.Set("contractaddress", r.Address)
	v.Set("sourceCode", r.Source)
	format := r.CodeFormat
	if format == "" {
		format = FormatStandardJSON
	}
	v.Set("codeformat", format)
	v.Set("contractname", r.ContractName)
	v.Set("compilerversion", r.CompilerVersion)
	// field name is misspelled in the explorer API
	v.Set("constructorArguements", strings.TrimPrefix(r.ConstructorArgs, "0x"))
	if format == FormatSingleFile {
		opt := "0"
		if r.OptimizationUsed {
			opt = "1"
		}
		v.Set("optimizationUsed", opt)
		v.Set("runs", strconv.Itoa(r.Runs))
		if r.EVMVersion != "" {
			v.Set("evmversion", r.EVMVersion)
		}
	}
	if r.LicenseType > 0 {
		v.Set("licenseType", strconv.Itoa(r.LicenseType))
	}
	return v
}

// VerifyState is the state reported by checkverifystatus.
type VerifyState string

const (
	StatePending VerifyState = "pending"
	StatePass    VerifyState = "pass"
	StateFail    VerifyState = "fail"
)

// VerifyStatus is the result of checkverifystatus.
type VerifyStatus struct {
	State   VerifyState
	Message string
}

// GetSourceCode returns the explorer's source record for address.
func (c *Client) GetSourceCode(ctx context.Context, address string) (*SourceCode, error) {
	q := url.Values{}
	q.Set("address", address)
	resp, err := c.do(ctx, http.MethodGet, "getsourcecode", q)
	if err != nil {
		return nil, err
	}
	if resp.Status != "1" {
		return nil, classify("getsourcecode", resp)
	}

	var results []SourceCode
	if err := json.Unmarshal(resp.Result, &results); err != nil {
		return nil, fmt.Errorf("decoding getsourcecode result: %w", err)
	}
	if len(results) == 0 {
		return &SourceCode{}, nil
	}
	return &results[0], nil
}

// VerifySourceCode submits source for verification and returns the GUID
// to poll.
func (c *Client) VerifySourceCode(ctx context.Context, req VerifyRequest) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "verifysourcecode", req.form())
	if err != nil {
		return "", err
	}
	if resp.Status != "1" {
		return "", classify("verifysourcecode", resp)
	}
	return resp.resultString(), nil
}

// CheckVerifyStatus polls a submission by GUID.
func (c *Client) CheckVerifyStatus(ctx context.Context, guid string) (*VerifyStatus, error) {
	q := url.Values{}
	q.Set("guid", guid)
	resp, err := c.do(ctx, http.MethodGet, "checkverifystatus", q)
	if err != nil {
		return nil, err
	}

	result := resp.resultString()
	lower := strings.ToLower(result)
	switch {
	case resp.Status == "1":
		return &VerifyStatus{State: StatePass, Message: result}, nil
	case strings.Contains(lower, "already verified"):
		return nil, ErrAlreadyVerified
	case strings.Contains(lower, "pending"), strings.Contains(lower, "in queue"):
		return &VerifyStatus{State: StatePending, Message: result}, nil
	case strings.HasPrefix(lower, "fail"):
		return &VerifyStatus{State: StateFail, Message: result}, nil
	}
	return nil, classify("checkverifystatus", resp)
}

// classify maps a status "0" response to an error.
func classify(action string, resp *response) error {
	result := resp.resultString()
	lower := strings.ToLower(result)
	switch {
	case strings.Contains(lower, "already verified"):
		return ErrAlreadyVerified
	case strings.Contains(lower, "invalid api key"), strings.Contains(lower, "missing/invalid api key"):
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, result)
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many"), strings.Contains(lower, "timeout"):
		return &TransientError{Action: action, Err: errors.New(result)}
	}
	return &APIError{Action: action, Message: resp.Message, Result: result}
}

func (c *Client) endpoint(action string, q url.Values) string {
	q.Set("module", "contract")
	q.Set("action", action)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	if c.chainID != 0 {
		q.Set("chainid", strconv.FormatUint(c.chainID, 10))
	}
	sep := "?"
	if strings.Contains(c.apiURL, "?") {
		sep = "&"
	}
	return c.apiURL + sep + q.Encode()
}

func (c *Client) do(ctx context.Context, method, action string, params url.Values) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint(action, url.Values{}), strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.endpoint(action, params), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{Action: action, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Action: action, Message: resp.Status, Result: strings.TrimSpace(string(body))}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransientError{Action: action, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return &out, nil
}
