package image

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"pixelmint/internal/domain"
)

// OpenAIOptions configures the DALL-E provider.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIProvider generates images through the OpenAI image API. DALL-E
// accepts no reference images, so requests carrying sources fail
// permanently rather than silently dropping them.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds the provider; the API key is required.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = "dall-e-3"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model returns the configured image model name.
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.NewError(domain.KindPermanentUpstream, "Prompt must not be empty", nil)
	}
	if len(req.Sources) > 0 {
		return nil, domain.NewError(domain.KindPermanentUpstream, "Selected provider does not support reference images", nil)
	}

	imgReq := openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.model,
		Size:           sizeForAspect(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	if p.model == "dall-e-3" {
		imgReq.Style = openai.CreateImageStyleVivid
	}

	response, err := p.client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return nil, domain.NewError(domain.KindTransientUpstream, "Provider returned no image", nil)
	}
	data, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientUpstream, "Could not decode provider response", err)
	}
	w, h := decodeImageDimensions(data)
	return &Asset{Data: data, MIMEType: "image/png", Width: w, Height: h}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewError(classifyStatus(apiErr.HTTPStatusCode), "Image provider rejected the request", err)
	}
	return domain.NewError(domain.KindTransientUpstream, "Image provider unreachable", err)
}

// sizeForAspect maps the request aspect ratio onto the nearest DALL-E
// size; DALL-E 3 supports square plus one landscape and one portrait
// size.
func sizeForAspect(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9", "3:2", "4:3":
		return openai.CreateImageSize1792x1024
	case "9:16", "2:3", "3:4":
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

var _ Generator = (*OpenAIProvider)(nil)
