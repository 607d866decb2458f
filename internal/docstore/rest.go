package docstore

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

	apperrors "github.com/kimhsiao/habitsync/internal/errors"
)

// RESTConfig holds connection settings for a realtime-database style REST endpoint.
type RESTConfig struct {
	BaseURL   string        // e.g. https://project.firebaseio.com
	AuthToken string        // sent as ?auth=
	Timeout   time.Duration // per request, default 30s
}

// RESTClient implements Store over the "<base>/<path>.json" REST protocol.
type RESTClient struct {
	config     RESTConfig
	httpClient *http.Client
}

// NewRESTClient creates a new RESTClient.
func NewRESTClient(config RESTConfig) *RESTClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &RESTClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *RESTClient) WithHTTPClient(client *http.Client) *RESTClient {
	c.httpClient = client
	return c
}

// Read implements Store. The endpoint answers "null" for missing records.
func (c *RESTClient) Read(ctx context.Context, path string, dst interface{}) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return false, err
	}
	if isNull(body) {
		return false, nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return false, apperrors.Wrap(apperrors.ErrInvalid, "decode document "+path, err)
	}
	return true, nil
}

// Write implements Store.
func (c *RESTClient) Write(ctx context.Context, path string, value interface{}) error {
	_, err := c.do(ctx, http.MethodPut, path, nil, value)
	return err
}

// Update implements Store.
func (c *RESTClient) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	_, err := c.do(ctx, http.MethodPatch, path, nil, fields)
	return err
}

// Delete implements Store.
func (c *RESTClient) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// ReadRange implements Store using key ordering.
func (c *RESTClient) ReadRange(ctx context.Context, collectionPath, startKey, endKey string) (map[string]json.RawMessage, error) {
	query := url.Values{}
	query.Set("orderBy", strconv.Quote("$key"))
	if startKey != "" {
		query.Set("startAt", strconv.Quote(startKey))
	}
	if endKey != "" {
		query.Set("endAt", strconv.Quote(endKey))
	}

	body, err := c.do(ctx, http.MethodGet, collectionPath, query, nil)
	if err != nil {
		return nil, err
	}

	out := map[string]json.RawMessage{}
	if isNull(body) {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode range "+collectionPath, err)
	}
	return out, nil
}

// Push implements Store. The server assigns the key.
func (c *RESTClient) Push(ctx context.Context, collectionPath string, value interface{}) (string, error) {
	body, err := c.do(ctx, http.MethodPost, collectionPath, nil, value)
	if err != nil {
		return "", err
	}

	var result struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", apperrors.Wrap(apperrors.ErrRemoteUnavailable, "decode push response", err)
	}
	if result.Name == "" {
		return "", apperrors.New(apperrors.ErrRemoteUnavailable, "push response missing key")
	}
	return result.Name, nil
}

// endpoint builds "<base>/<path>.json?<query>&auth=<token>".
func (c *RESTClient) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.config.AuthToken != "" {
		query.Set("auth", c.config.AuthToken)
	}

	segments := Split(path)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := c.config.BaseURL + "/" + strings.Join(segments, "/") + ".json"
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, payload interface{}) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode document", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "read response body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Newf(apperrors.ErrRemoteUnavailable, "%s %s: permission denied (status %d)",
			method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperrors.Newf(apperrors.ErrRemoteUnavailable, "%s %s failed with status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func isNull(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
