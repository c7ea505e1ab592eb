package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client calls the backend's HTTP endpoints.
type Client struct {
	baseURL string
	client  *http.Client
}

type userAgentTransport struct {
	agent string
	rt    http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", u.agent)
	return u.rt.RoundTrip(r2)
}

// NewClient creates a client for the backend at baseURL. Every request is
// bounded by timeout; zero means 30s.
func NewClient(baseURL string, timeout time.Duration, version string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if version == "" {
		version = "dev"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &userAgentTransport{
				agent: fmt.Sprintf("Typira/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH),
				rt:    http.DefaultTransport,
			},
		},
	}
}

// apiResponse covers every endpoint's reply; each fills its own field.
type apiResponse struct {
	Suggestion    string `json:"suggestion"`
	RewrittenText string `json:"rewritten_text"`
	Transcription string `json:"transcription"`
	Transcript    string `json:"transcript"`
	Status        string `json:"status"`
	Error         string `json:"error"`
}

// Suggest returns a completion for text. The backend answers with the
// whole sentence, including text itself.
func (c *Client) Suggest(ctx context.Context, text, memories string) (string, error) {
	resp, err := c.postForm(ctx, "/suggest", url.Values{"text": {text}, "context": {memories}})
	if err != nil {
		return "", err
	}
	return resp.Suggestion, nil
}

// Rewrite rewrites text in the given tone.
func (c *Client) Rewrite(ctx context.Context, text, memories, tone string) (string, error) {
	if tone == "" {
		tone = "professional"
	}
	resp, err := c.postForm(ctx, "/rewrite", url.Values{"text": {text}, "context": {memories}, "tone": {tone}})
	if err != nil {
		return "", err
	}
	return resp.RewrittenText, nil
}

// Remember syncs a snippet to the backend's memory.
func (c *Client) Remember(ctx context.Context, text string) error {
	_, err := c.postForm(ctx, "/remember", url.Values{"text": {text}})
	return err
}

// Transcribe uploads the m4a recording at path and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", "audio/m4a")
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read recording: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "/stt", w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	if resp.Transcription != "" {
		return resp.Transcription, nil
	}
	return resp.Transcript, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*apiResponse, error) {
	return c.post(ctx, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: API error (status %d)", path, resp.StatusCode)
	}

	var result apiResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("%s: failed to parse response: %w", path, err)
		}
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%s: API error: %s", path, result.Error)
	}
	return &result, nil
}
