package org

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

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	defaultAPIVersion = "v59.0"

	// compositeBatchLimit is the server-side cap on records per composite
	// sobjects call.
	compositeBatchLimit = 200
)

// RESTConfig carries the connection parameters for one org.
type RESTConfig struct {
	Name        string
	InstanceURL string
	AccessToken string
	APIVersion  string
	// RatePerSec caps outgoing request rate; zero disables limiting.
	RatePerSec float64
	RetryMax   int
	Timeout    time.Duration
}

// RESTConnection talks to a Salesforce-style JSON REST API.
type RESTConnection struct {
	cfg     RESTConfig
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

// NewRESTConnection builds a connection from config. It does not probe the
// org; the first call surfaces connectivity problems.
func NewRESTConnection(cfg RESTConfig) (*RESTConnection, error) {
	if cfg.InstanceURL == "" {
		return nil, wrapError(CodeBadRequest, false, fmt.Errorf("instance url is required"))
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	return &RESTConnection{cfg: cfg, client: client, limiter: limiter}, nil
}

// SetHTTPClient swaps the underlying http client, used by tests to point the
// connection at an httptest server transport.
func (c *RESTConnection) SetHTTPClient(hc *http.Client) {
	c.client.HTTPClient = hc
}

func (c *RESTConnection) OrgName() string { return c.cfg.Name }

func (c *RESTConnection) Close() error { return nil }

func (c *RESTConnection) baseURL() string {
	return strings.TrimRight(c.cfg.InstanceURL, "/") + "/services/data/" + c.cfg.APIVersion
}

func (c *RESTConnection) do(ctx context.Context, method, rawURL string, body any) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, wrapError(CodeTimeout, false, err)
		}
	}
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, 0, wrapError(CodeBadRequest, false, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return nil, 0, wrapError(CodeBadRequest, false, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		code, retryable := Classify(err)
		return nil, 0, wrapError(code, retryable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, wrapError(CodeEndpointUnreachable, true, err)
	}
	if resp.StatusCode >= 400 {
		return data, resp.StatusCode, classifyStatus(resp.StatusCode, data)
	}
	return data, resp.StatusCode, nil
}

func classifyStatus(status int, body []byte) *Error {
	err := fmt.Errorf("http %d: %s", status, truncate(string(body), 512))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return wrapError(CodeAuthInvalid, false, err)
	case status == http.StatusNotFound:
		return wrapError(CodeNotFound, false, err)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return wrapError(CodeTimeout, true, err)
	case status >= 500:
		return wrapError(CodeEndpointUnreachable, true, err)
	default:
		return wrapError(CodeBadRequest, false, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type describeResponse struct {
	Fields []FieldDescriptor `json:"fields"`
}

func (c *RESTConnection) Describe(ctx context.Context, objectName string) ([]FieldDescriptor, error) {
	data, _, err := c.do(ctx, http.MethodGet, c.baseURL()+"/sobjects/"+url.PathEscape(objectName)+"/describe", nil)
	if err != nil {
		return nil, err
	}
	var out describeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, wrapError(CodeBadRequest, false, err)
	}
	return out.Fields, nil
}

type queryResponse struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []Record `json:"records"`
}

func (c *RESTConnection) Query(ctx context.Context, query string) ([]Record, error) {
	next := c.baseURL() + "/query?q=" + url.QueryEscape(query)
	var all []Record
	for next != "" {
		data, _, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		var page queryResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, wrapError(CodeBadRequest, false, err)
		}
		all = append(all, page.Records...)
		if page.Done || page.NextRecordsURL == "" {
			break
		}
		next = strings.TrimRight(c.cfg.InstanceURL, "/") + page.NextRecordsURL
	}
	return all, nil
}

type compositeSaveRequest struct {
	AllOrNone bool     `json:"allOrNone"`
	Records   []Record `json:"records"`
}

type compositeSaveResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Errors  []struct {
		StatusCode string `json:"statusCode"`
		Message    string `json:"message"`
	} `json:"errors"`
}

func (c *RESTConnection) Insert(ctx context.Context, objectName string, records []Record) ([]SaveResult, error) {
	return c.save(ctx, http.MethodPost, objectName, records)
}

func (c *RESTConnection) Update(ctx context.Context, objectName string, records []Record) ([]SaveResult, error) {
	return c.save(ctx, http.MethodPatch, objectName, records)
}

func (c *RESTConnection) save(ctx context.Context, method, objectName string, records []Record) ([]SaveResult, error) {
	results := make([]SaveResult, 0, len(records))
	for start := 0; start < len(records); start += compositeBatchLimit {
		end := start + compositeBatchLimit
		if end > len(records) {
			end = len(records)
		}
		chunk := make([]Record, 0, end-start)
		for _, rec := range records[start:end] {
			tagged := Record{}
			for k, v := range rec {
				tagged[k] = v
			}
			tagged["attributes"] = map[string]any{"type": objectName}
			chunk = append(chunk, tagged)
		}
		data, _, err := c.do(ctx, method, c.baseURL()+"/composite/sobjects", compositeSaveRequest{Records: chunk})
		if err != nil {
			return results, err
		}
		var raw []compositeSaveResult
		if err := json.Unmarshal(data, &raw); err != nil {
			return results, wrapError(CodeBadRequest, false, err)
		}
		for _, r := range raw {
			sr := SaveResult{ID: r.ID, Success: r.Success, Created: r.Created}
			for _, e := range r.Errors {
				sr.Errors = append(sr.Errors, fmt.Sprintf("%s: %s", e.StatusCode, e.Message))
			}
			results = append(results, sr)
		}
	}
	return results, nil
}

func (c *RESTConnection) Delete(ctx context.Context, objectName string, ids []string) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += compositeBatchLimit {
		end := start + compositeBatchLimit
		if end > len(ids) {
			end = len(ids)
		}
		u := c.baseURL() + "/composite/sobjects?allOrNone=false&ids=" + url.QueryEscape(strings.Join(ids[start:end], ","))
		data, _, err := c.do(ctx, http.MethodDelete, u, nil)
		if err != nil {
			return deleted, err
		}
		var raw []compositeSaveResult
		if err := json.Unmarshal(data, &raw); err != nil {
			return deleted, wrapError(CodeBadRequest, false, err)
		}
		for _, r := range raw {
			if r.Success {
				deleted++
			}
		}
	}
	return deleted, nil
}

var _ Connection = (*RESTConnection)(nil)
