package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// ImageField is the multipart field the extraction endpoint reads.
const ImageField = "image"

// ExtractResult is the text and speech the service derived from an image.
// Sound fields are asset paths relative to the service root.
type ExtractResult struct {
	OriginalText   string `json:"original_text"`
	OriginalSound  string `json:"original_sound"`
	SummarizedText string `json:"summarized_text"`
	SummarySound   string `json:"summary_sound"`
}

// Extract uploads an image for text extraction and summarization.
func (c *Client) Extract(ctx context.Context, filename string, image io.Reader) (*ExtractResult, error) {
	if image == nil {
		return nil, errors.New("extract: no image")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader(ImageField, filepath.Base(filename), image).
		Post(extractPath)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	if _, err := decodeEnvelope("extract", resp); err != nil {
		return nil, err
	}

	var result ExtractResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}
	return &result, nil
}

// AssetURL resolves a service-relative asset path such as "src/1.wav".
func (c *Client) AssetURL(assetPath string) string {
	if assetPath == "" {
		return ""
	}
	if assetPath[0] != '/' {
		assetPath = "/" + assetPath
	}
	return c.baseURL + assetPath
}
