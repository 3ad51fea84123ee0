package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archivescan/pipeline/internal/extract"
)

const systemPrompt = "You are an expert text extraction specialist analyzing the back of " +
	"museum and archive photographs. These images carry identification numbers and assorted " +
	"metadata. Find and extract the ID number first: it sits in the bottom left corner for " +
	"portrait images or the top left corner for landscape images, is usually handwritten, " +
	"and appears in formats like \"27.42\", \"63.8\" or \"2.43\". Then extract ALL other " +
	"visible text: handwritten notes, printed labels, addresses, stamps, and any other " +
	"markings. Include faded, partial, or unclear text and note the uncertainty. " +
	"Return ONLY JSON that matches the provided JSON Schema."

// Recognize implements extract.Recognizer against the chat/completions
// endpoint, attaching the image as a base64 data URL.
func (c *Client) Recognize(ctx context.Context, req extract.RecognizeRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("openai.recognize.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"unit", req.UnitLabel,
		"image_bytes", len(req.ImageBytes),
	)

	schema := extract.BuildUnitRecordJSONSchema()
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		req.MIMEType, base64.StdEncoding.EncodeToString(req.ImageBytes))

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  500,
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt + "\n\nJSON Schema:\n" + mustJSON(schema)},
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": buildUserPrompt(req.UnitLabel)},
					{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, httpErr := c.post(ctx, endpoint, body)
	if httpErr != nil {
		c.log.Error("openai.recognize.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", httpErr
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("openai.recognize.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("openai.recognize.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("no choices in openai response")
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	c.log.Info("openai.recognize.ok",
		"req_id", rid,
		"unit", req.UnitLabel,
		"content_bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func buildUserPrompt(unitLabel string) string {
	var b strings.Builder
	b.WriteString("Analyze this back image from directory \"")
	b.WriteString(unitLabel)
	b.WriteString("\" and extract ALL text content.\n\n")
	b.WriteString("CRITICAL: the ID number is either in the bottom left corner (portrait) ")
	b.WriteString("or the top left corner (landscape).\n\nExtract everything visible:\n")
	b.WriteString("1. The ID number (MOST IMPORTANT, formats like \"23.82\", \"3.82\" or \"23.8\" ONLY)\n")
	b.WriteString("2. Any handwritten notes or annotations\n")
	b.WriteString("3. Printed labels with names and addresses\n")
	b.WriteString("4. Stamps or official markings\n")
	b.WriteString("5. Any other text or numbers anywhere on the image\n")
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
