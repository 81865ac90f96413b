// Package client uploads files to a blink server through its JSON API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Share is the server's description of an uploaded file.
type Share struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	DownloadURL  string     `json:"download_url"`
	OriginalName string     `json:"original_name"`
	SizeBytes    int64      `json:"size_bytes"`
	Mime         string     `json:"mime,omitempty"`
	Checksum     string     `json:"checksum,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
	OneTime      bool       `json:"one_time"`
	Downloads    int64      `json:"downloads"`
}

// APIError is a non-success answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// UploadOptions mirror the upload form fields.
type UploadOptions struct {
	ExpiryHours int
	OneTime     bool
}

// Client talks to one blink server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Arg: baseURL, Cause: "server must be an http(s) URL"}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

// Upload streams name and body to POST /api/upload as a multipart form.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader, opts UploadOptions) (*Share, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, name, body, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var share Share
	if err := c.do(req, http.StatusCreated, &share); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &share, nil
}

func writeForm(mw *multipart.Writer, name string, body io.Reader, opts UploadOptions) error {
	if err := mw.WriteField("expires", strconv.Itoa(opts.ExpiryHours)); err != nil {
		return err
	}
	mode := "standard"
	if opts.OneTime {
		mode = "one"
	}
	if err := mw.WriteField("mode", mode); err != nil {
		return err
	}

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	return mw.Close()
}

// Info fetches metadata for a share without downloading it.
func (c *Client) Info(ctx context.Context, id string) (*Share, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/info/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var share Share
	if err := c.do(req, http.StatusOK, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
			apiErr.Message = body.Error
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
