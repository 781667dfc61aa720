package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxMediaBytes = 16 << 20

var ErrMediaUnavailable = errors.New("media url not returned")

type Media struct {
	Data     []byte
	MimeType string
}

// MediaFetcher resolves a chat media id to the image bytes.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaID string) (*Media, error)
}

// GraphClient fetches media from the WhatsApp Cloud API: one call to resolve
// the media id to a short-lived URL, one to download it.
type GraphClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewGraphClient(baseURL, accessToken string) *GraphClient {
	return &GraphClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

func (c *GraphClient) Fetch(ctx context.Context, mediaID string) (*Media, error) {
	body, _, err := c.get(ctx, c.baseURL+"/"+mediaID)
	if err != nil {
		return nil, fmt.Errorf("media lookup: %w", err)
	}

	var info mediaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode media lookup: %w", err)
	}
	if info.URL == "" {
		return nil, ErrMediaUnavailable
	}

	data, contentType, err := c.get(ctx, info.URL)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = contentType
	}
	return &Media{Data: data, MimeType: mimeType}, nil
}

func (c *GraphClient) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
