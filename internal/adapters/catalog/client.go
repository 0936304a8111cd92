// Package catalog is the HTTP client for the catalog/file server: discovery,
// one-shot processing, batch jobs and file retrieval.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"grainery.core/internal/core/circuitbreaker"
	"grainery.core/internal/core/domain"
)

const noComputeCode = "E_NO_COMPUTE"

type Client struct {
	baseURL string
	http    *http.Client

	probeBreaker   *circuitbreaker.CircuitBreaker
	processBreaker *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Timeout: timeout},
		probeBreaker:   circuitbreaker.New("catalog-discover"),
		processBreaker: circuitbreaker.New("catalog-process"),
	}
}

// discoverResponse mirrors the loosely-typed discovery payload. Pointer
// fields keep "absent" distinguishable from "false" so defaults can be
// applied exactly once, here at the boundary.
type discoverResponse struct {
	ExecutionMode *string `json:"executionMode"`
	Capabilities  struct {
		Compute  *bool `json:"compute"`
		Database *bool `json:"database"`
		Files    *bool `json:"files"`
	} `json:"capabilities"`
	Version string `json:"version"`
}

// Probe implements ports.CapabilityProber against GET /discover.
func (c *Client) Probe(ctx context.Context) (domain.ServerCapabilities, error) {
	result, err := c.probeBreaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/discover", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: discover: %v", domain.ErrTransport, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: discover returned status %d", domain.ErrTransport, resp.StatusCode)
		}

		var raw discoverResponse
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: decoding discover response: %v", domain.ErrTransport, err)
		}
		return raw, nil
	})
	if err != nil {
		return domain.ServerCapabilities{}, err
	}
	return shapeCapabilities(result.(discoverResponse)), nil
}

// shapeCapabilities resolves every optional wire field to a concrete value.
// Compute defaults from the execution mode; data and files default to true
// since any reachable catalog server stores and serves something.
func shapeCapabilities(raw discoverResponse) domain.ServerCapabilities {
	mode := domain.ExecutionModeStandalone
	if raw.ExecutionMode != nil && domain.ExecutionMode(*raw.ExecutionMode) == domain.ExecutionModeDataOnly {
		mode = domain.ExecutionModeDataOnly
	}

	caps := domain.ServerCapabilities{
		ExecutionMode: mode,
		CanCompute:    mode != domain.ExecutionModeDataOnly,
		CanStoreData:  true,
		CanServeFiles: true,
		ServerVersion: raw.Version,
	}
	if raw.Capabilities.Compute != nil {
		caps.CanCompute = *raw.Capabilities.Compute
	}
	if raw.Capabilities.Database != nil {
		caps.CanStoreData = *raw.Capabilities.Database
	}
	if raw.Capabilities.Files != nil {
		caps.CanServeFiles = *raw.Capabilities.Files
	}
	return caps
}

type processOutcome struct {
	payload   []byte
	noCompute bool
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Process implements ports.RemoteCompute against POST /process/{kind}.
// A 503 carrying code E_NO_COMPUTE maps to domain.ErrNoCompute; it is an
// orderly answer, so it neither trips the breaker nor counts as a failure.
func (c *Client) Process(ctx context.Context, kind domain.OperationKind, params domain.OperationParams) ([]byte, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	result, err := c.processBreaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/process/%s", c.baseURL, kind), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: process %s: %v", domain.ErrTransport, kind, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			payload, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("%w: reading process payload: %v", domain.ErrTransport, err)
			}
			return processOutcome{payload: payload}, nil
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			var eb errorBody
			if json.NewDecoder(resp.Body).Decode(&eb) == nil && eb.Code == noComputeCode {
				return processOutcome{noCompute: true}, nil
			}
		}
		return nil, fmt.Errorf("process %s rejected: status %d", kind, resp.StatusCode)
	})
	if err != nil {
		return nil, err
	}

	outcome := result.(processOutcome)
	if outcome.noCompute {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoCompute, kind)
	}
	return outcome.payload, nil
}

type submitRequest struct {
	Scope        domain.BatchScope `json:"scope"`
	ItemIDs      []domain.ItemRef  `json:"itemIds,omitempty"`
	ParamsSource string            `json:"paramsSource,omitempty"`
	OutputConfig string            `json:"outputConfig,omitempty"`
}

// SubmitBatch implements ports.BatchService submission against
// POST /batch/{render|download}.
func (c *Client) SubmitBatch(ctx context.Context, spec domain.JobSpec) (string, error) {
	body, err := json.Marshal(submitRequest{
		Scope:        spec.Scope,
		ItemIDs:      spec.Items,
		ParamsSource: spec.ParamsSource,
		OutputConfig: string(spec.OutputConfig),
	})
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, fmt.Sprintf("%s/batch/%s", c.baseURL, spec.Kind), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("batch submission rejected: status %d", resp.StatusCode)
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding batch submission response: %v", domain.ErrTransport, err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("batch submission returned no job id")
	}
	return out.JobID, nil
}

type progressResponse struct {
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Current     string `json:"current"`
	FailedItems []struct {
		ItemRef string `json:"itemRef"`
		Error   string `json:"error"`
	} `json:"failedItems"`
	Reason string `json:"reason"`
}

// BatchProgress implements the polling read against GET /batch/{id}/progress.
func (c *Client) BatchProgress(ctx context.Context, remoteID string) (domain.Progress, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/batch/%s/progress", c.baseURL, url.PathEscape(remoteID)), nil)
	if err != nil {
		return domain.Progress{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("%w: batch progress: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Progress{}, fmt.Errorf("%w: batch progress returned status %d", domain.ErrTransport, resp.StatusCode)
	}

	var raw progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.Progress{}, fmt.Errorf("%w: decoding batch progress: %v", domain.ErrTransport, err)
	}

	prog := domain.Progress{
		Status:    domain.JobStatus(raw.Status),
		Total:     raw.Total,
		Completed: raw.Completed,
		Failed:    raw.Failed,
		Current:   domain.ItemRef(raw.Current),
		Reason:    raw.Reason,
	}
	for _, fi := range raw.FailedItems {
		prog.FailedItems = append(prog.FailedItems, domain.FailedItem{
			Item:  domain.ItemRef(fi.ItemRef),
			Error: fi.Error,
		})
	}
	return prog, nil
}

// BatchControl forwards a control request to POST /batch/{id}/{control}.
func (c *Client) BatchControl(ctx context.Context, remoteID string, ctl domain.Control) error {
	resp, err := c.post(ctx,
		fmt.Sprintf("%s/batch/%s/%s", c.baseURL, url.PathEscape(remoteID), ctl), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s request rejected: status %d", ctl, resp.StatusCode)
	}
	return nil
}

// Fetch implements ports.ResourceFetcher. Absolute http(s) locators are
// fetched directly; everything else goes through the server's file surface.
func (c *Client) Fetch(ctx context.Context, loc domain.Locator) ([]byte, error) {
	target := string(loc)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/files/" + url.PathEscape(string(loc))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", domain.ErrTransport, loc, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetching %s: status %d", domain.ErrTransport, loc, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return resp, nil
}
