package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/turnloop/internal/types"
)

const (
	defaultMaxChars = 50000
	maxBodyBytes    = 10 << 20
)

// ReadURL fetches a URL. HTML and text pages come back as markdown; images
// come back as an image content item so multimodal models can look at them.
type ReadURL struct {
	client   *http.Client
	maxChars int
}

// NewReadURL creates a ReadURL tool. maxChars <= 0 uses the default limit.
func NewReadURL(maxChars int) *ReadURL {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &ReadURL{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxChars: maxChars,
	}
}

func (r *ReadURL) Name() string { return "read_url" }
func (r *ReadURL) Description() string {
	return "Fetch a URL and return its content as markdown, or the image itself for image URLs"
}
func (r *ReadURL) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The URL to fetch"}
		},
		"required": ["url"]
	}`)
}

func (r *ReadURL) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	text, _, err := r.ExecuteContent(ctx, args)
	return text, err
}

func (r *ReadURL) ExecuteContent(ctx context.Context, args json.RawMessage) (string, []types.ContentItem, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", nil, fmt.Errorf("parse args: %w", err)
	}
	if params.URL == "" {
		return "", nil, errors.New("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "turnloop/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "image/") {
		item := types.ContentItem{Type: types.ContentImage, URL: params.URL}
		return fmt.Sprintf("Fetched image (%s) from %s", mediaType, params.URL), []types.ContentItem{item}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		text, err = htmltomarkdown.ConvertString(text)
		if err != nil {
			return "", nil, fmt.Errorf("convert to markdown: %w", err)
		}
	}

	if len(text) > r.maxChars {
		text = text[:r.maxChars] + "\n\n[Content truncated]"
	}
	return text, nil, nil
}
