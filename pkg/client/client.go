// Package client provides a Go client for the deployrecon server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a deployrecon API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithHeader sets a header sent with every request, e.g. a bearer token
// checked by a proxy in front of the server.
func WithHeader(key, value string) Option {
	return func(client *Client) {
		client.headers[key] = value
	}
}

// New creates a new deployrecon client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Network describes the network a server reconciles against
type Network struct {
	Name        string `json:"network"`
	ChainID     uint64 `json:"chainId"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	// Reconcile reports whether POST /reconcile is served
	Reconcile bool `json:"reconcile"`
}

// ConstructorArg is a typed constructor argument
type ConstructorArg struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Manifest is a deployment manifest
type Manifest struct {
	ID               string           `json:"id"`
	Artifact         string           `json:"artifact"`
	Network          string           `json:"network"`
	ChainID          uint64           `json:"chainId"`
	DeployerAddress  string           `json:"deployerAddress,omitempty"`
	ConstructorArgs  []ConstructorArg `json:"constructorArgs"`
	TransactionHash  string           `json:"transactionHash,omitempty"`
	ContractAddress  string           `json:"contractAddress,omitempty"`
	MinedBlockNumber uint64           `json:"minedBlockNumber,omitempty"`
	GasUsed          uint64           `json:"gasUsed,omitempty"`
	Status           string           `json:"status"`
	FailureReason    string           `json:"failureReason,omitempty"`
	FailureDetail    string           `json:"failureDetail,omitempty"`
	CalldataDigest   string           `json:"calldataDigest,omitempty"`
	CreatedAt        string           `json:"createdAt"`
	UpdatedAt        string           `json:"updatedAt"`
}

// Run is a recorded reconciliation run. Report is only set by GetRun.
type Run struct {
	ID           string          `json:"id"`
	Network      string          `json:"network"`
	Artifact     string          `json:"artifact"`
	Address      string          `json:"address"`
	Verdict      string          `json:"verdict"`
	Verification string          `json:"verification"`
	Overall      bool            `json:"overall"`
	CreatedAt    string          `json:"createdAt"`
	Report       json.RawMessage `json:"report,omitempty"`
}

// Attempt is a recorded verification attempt
type Attempt struct {
	ID        string `json:"id"`
	Network   string `json:"network"`
	Address   string `json:"address"`
	Artifact  string `json:"artifact"`
	Outcome   string `json:"outcome"`
	Failure   string `json:"failure,omitempty"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
	GUID      string `json:"guid,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// TokenExpectations are the ERC-20 preset values
type TokenExpectations struct {
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Decimals    string `json:"decimals,omitempty"`
	TotalSupply string `json:"totalSupply,omitempty"`
	Holder      string `json:"holder,omitempty"`
}

// Check is a read-only call whose first return value is compared
type Check struct {
	Name        string   `json:"name"`
	Signature   string   `json:"signature"`
	Args        []string `json:"args,omitempty"`
	Expect      string   `json:"expect,omitempty"`
	EqualTo     string   `json:"equalTo,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ReconcileRequest is the request for a reconciliation run. An empty
// address reconciles the manifest recorded for the artifact.
type ReconcileRequest struct {
	Artifact  string             `json:"artifact"`
	Address   string             `json:"address,omitempty"`
	Libraries map[string]string  `json:"libraries,omitempty"`
	Token     *TokenExpectations `json:"token,omitempty"`
	Checks    []Check            `json:"checks,omitempty"`
}

// CheckResult is the outcome of one state check
type CheckResult struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Passed      bool   `json:"passed"`
	Actual      string `json:"actual"`
	Expected    string `json:"expected,omitempty"`
}

// Report is a reconciliation report
type Report struct {
	RunID      string   `json:"runId,omitempty"`
	Network    string   `json:"network"`
	ChainID    uint64   `json:"chainId"`
	Artifact   string   `json:"artifact"`
	Address    string   `json:"address"`
	AddressURL string   `json:"addressUrl,omitempty"`
	Overall    bool     `json:"overall"`
	Failures   []string `json:"failures,omitempty"`
	Bytecode   struct {
		Verdict string `json:"verdict"`
		Message string `json:"message,omitempty"`
	} `json:"bytecode"`
	StateChecks struct {
		Status  string        `json:"status"`
		Error   string        `json:"error,omitempty"`
		Results []CheckResult `json:"results,omitempty"`
	} `json:"stateChecks"`
	Verification struct {
		Outcome string `json:"outcome"`
		Failure string `json:"failure,omitempty"`
		Reason  string `json:"reason,omitempty"`
		Link    string `json:"link,omitempty"`
	} `json:"verification"`
}

// ListOptions filters list endpoints. Zero values are omitted.
type ListOptions struct {
	Network string
	Address string
	Status  string
	Limit   int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Network != "" {
		q.Set("network", o.Network)
	}
	if o.Address != "" {
		q.Set("address", o.Address)
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Network gets the network the server is configured for
func (c *Client) Network(ctx context.Context) (*Network, error) {
	var resp Network
	if err := c.get(ctx, "/api/v1/network", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListManifests lists deployment manifests
func (c *Client) ListManifests(ctx context.Context, opts ListOptions) ([]Manifest, error) {
	var resp struct {
		Data []Manifest `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/manifests"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetManifest gets the manifest of an artifact on a network. The artifact
// id keeps its slashes in the path.
func (c *Client) GetManifest(ctx context.Context, network, artifact string) (*Manifest, error) {
	var resp Manifest
	path := fmt.Sprintf("/api/v1/manifests/%s/%s", url.PathEscape(network), escapeArtifact(artifact))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists recorded runs, newest first
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	var resp struct {
		Data []Run `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetRun gets a run including its full report
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var resp Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAttempts lists verification attempts, newest first
func (c *Client) ListAttempts(ctx context.Context, opts ListOptions) ([]Attempt, error) {
	var resp struct {
		Data []Attempt `json:"data"`
	}
	path := "/api/v1/verifications"
	if opts.Address != "" {
		path += "/" + url.PathEscape(opts.Address)
		opts.Address = ""
	}
	if err := c.get(ctx, path+opts.query(), &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Reconcile runs a reconciliation on the server
func (c *Client) Reconcile(ctx context.Context, req ReconcileRequest) (*Report, error) {
	var resp Report
	if err := c.post(ctx, "/api/v1/reconcile", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func escapeArtifact(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
