package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config for the semantic index client.
type Config struct {
	BaseURL    string        // Chroma-style REST endpoint, e.g. http://localhost:8000
	Collection string        // default collection name
	Timeout    time.Duration // http client timeout
}

// Client talks to a Chroma-style vector index over REST. The index embeds
// documents server-side; this client only ships text and metadata.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	collections map[string]string // name -> collection id
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	if cfg.Collection == "" {
		cfg.Collection = "pipeline_results"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		collections: make(map[string]string),
	}
}

// DefaultCollection returns the configured collection name.
func (c *Client) DefaultCollection() string { return c.cfg.Collection }

// AddDocument indexes one text document under the given collection.
func (c *Client) AddDocument(ctx context.Context, collection, documentID, text string, metadata map[string]string) error {
	if collection == "" {
		collection = c.cfg.Collection
	}
	collID, err := c.ensureCollection(ctx, collection)
	if err != nil {
		return err
	}

	body := map[string]any{
		"ids":       []string{documentID},
		"documents": []string{text},
		"metadatas": []map[string]string{metadata},
	}
	if metadata == nil {
		body["metadatas"] = []map[string]string{{}}
	}

	url := fmt.Sprintf("%s/api/v1/collections/%s/add", strings.TrimRight(c.cfg.BaseURL, "/"), collID)
	if _, err := c.sendJSON(ctx, url, body); err != nil {
		return fmt.Errorf("add document %s: %w", documentID, err)
	}

	c.logger.Info("semantic.document_added",
		"collection", collection,
		"document_id", documentID,
		"text_len", len(text),
	)
	return nil
}

// ensureCollection resolves (and caches) the collection id, creating the
// collection when it does not exist yet.
func (c *Client) ensureCollection(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.collections[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/v1/collections"
	raw, err := c.sendJSON(ctx, url, map[string]any{"name": name, "get_or_create": true})
	if err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", name, err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode collection response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("collection response missing id")
	}

	c.mu.Lock()
	c.collections[name] = resp.ID
	c.mu.Unlock()
	return resp.ID, nil
}

// sendJSON posts a JSON body and returns the raw response.
func (c *Client) sendJSON(ctx context.Context, url string, body any) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("semantic.http.send_error", "req_id", reqID, "url", url, "error", err)
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Warn("semantic.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)

	c.logger.Debug("semantic.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return raw, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, nil
}
