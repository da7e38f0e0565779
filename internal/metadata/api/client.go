// Package api is a client for the metadata HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

// Config controls the API client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps 404 responses to pipeline.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return pipeline.ErrNotFound
	}
	return nil
}

// Client calls the metadata API with a bearer token.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New builds a Client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("metadata.api.base_url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, token: cfg.Token, http: httpClient}, nil
}

// Object is the object payload accepted by the API.
type Object struct {
	Scheme        string         `json:"scheme"`
	Host          string         `json:"host"`
	Bucket        string         `json:"bucket"`
	Key           string         `json:"key"`
	Source        map[string]any `json:"source"`
	MIMEType      string         `json:"mime_type"`
	SHA256Hash    string         `json:"sha256_hash"`
	ObjectGroupID *int64         `json:"object_group_id,omitempty"`
}

// ObjectFromRecord converts a pipeline record into an API payload.
func ObjectFromRecord(rec pipeline.ObjectRecord) Object {
	return Object{
		Scheme:        rec.Scheme,
		Host:          rec.Host,
		Bucket:        rec.Bucket,
		Key:           rec.Key,
		Source:        rec.Source,
		MIMEType:      rec.MIMEType,
		SHA256Hash:    rec.SHA256Hash,
		ObjectGroupID: rec.ObjectGroupID,
	}
}

type idResponse struct {
	ID int64 `json:"id"`
}

type processUpdate struct {
	State    pipeline.ProcessState `json:"state"`
	SourceID *int64                `json:"source_id,omitempty"`
}

// CreateIngestProcess creates an ingest process together with a new object group.
func (c *Client) CreateIngestProcess(ctx context.Context) (pipeline.IngestProcess, error) {
	var proc pipeline.IngestProcess
	if err := c.do(ctx, http.MethodPost, "ingest-process", processUpdate{State: pipeline.ProcessCreated}, &proc); err != nil {
		return pipeline.IngestProcess{}, fmt.Errorf("create ingest process: %w", err)
	}
	if proc.State == "" {
		proc.State = pipeline.ProcessCreated
	}
	return proc, nil
}

// GetIngestProcess fetches one ingest process.
func (c *Client) GetIngestProcess(ctx context.Context, id int64) (pipeline.IngestProcess, error) {
	var proc pipeline.IngestProcess
	if err := c.do(ctx, http.MethodGet, "ingest-process/"+strconv.FormatInt(id, 10), nil, &proc); err != nil {
		return pipeline.IngestProcess{}, fmt.Errorf("get ingest process %d: %w", id, err)
	}
	return proc, nil
}

// UpdateIngestProcess sets the state and, when given, the source of an ingest process.
func (c *Client) UpdateIngestProcess(ctx context.Context, id int64, state pipeline.ProcessState, sourceID *int64) error {
	body := processUpdate{State: state, SourceID: sourceID}
	if err := c.do(ctx, http.MethodPatch, "ingest-process/"+strconv.FormatInt(id, 10), body, nil); err != nil {
		return fmt.Errorf("update ingest process %d: %w", id, err)
	}
	return nil
}

// CreateObject registers a new object and returns its id.
func (c *Client) CreateObject(ctx context.Context, obj Object) (int64, error) {
	var resp idResponse
	if err := c.do(ctx, http.MethodPost, "object", obj, &resp); err != nil {
		return 0, fmt.Errorf("create object: %w", err)
	}
	return resp.ID, nil
}

// UpdateObject replaces the mutable fields of an object and returns its id.
func (c *Client) UpdateObject(ctx context.Context, id int64, obj Object) (int64, error) {
	var resp idResponse
	if err := c.do(ctx, http.MethodPatch, "object/"+strconv.FormatInt(id, 10), obj, &resp); err != nil {
		return 0, fmt.Errorf("update object %d: %w", id, err)
	}
	if resp.ID == 0 {
		resp.ID = id
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body drained below

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: u.Path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
