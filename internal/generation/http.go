package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/glintworks/atelier/internal/config"
	"github.com/glintworks/atelier/internal/models"
)

// HTTPProvider calls a generation service over HTTP: JSON request in,
// binary media body out. The wire shape beyond that is the provider's
// business; this client only cares about the three outcome classes.
type HTTPProvider struct {
	cfg    config.ProviderConfig
	client *http.Client
}

func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

var _ Provider = (*HTTPProvider)(nil)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Media, error) {
	endpoint := p.cfg.ImageEndpoint
	if req.MediaType == models.MediaTypeVideo {
		endpoint = p.cfg.VideoEndpoint
	}

	body, err := json.Marshal(generateRequest{Prompt: req.Prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify(resp.StatusCode, string(payload))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Reason: fmt.Sprintf("read media body: %v", err)}
	}
	if len(data) == 0 {
		return nil, &TransientError{Reason: "provider returned empty media body"}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType(req.MediaType)
	}
	return &Media{Data: data, ContentType: contentType}, nil
}

func defaultContentType(mediaType string) string {
	if mediaType == models.MediaTypeVideo {
		return "video/mp4"
	}
	return "image/png"
}
