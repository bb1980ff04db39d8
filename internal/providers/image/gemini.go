package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixelmint/internal/domain"
)

// GeminiOptions controls how the Gemini provider is configured.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// GeminiProvider calls the Gemini generateContent endpoint with an
// optional set of reference images supplied inline.
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount   int      `json:"candidateCount,omitempty"`
	ResponseModality []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewGeminiProvider constructs a Gemini provider with sane defaults.
// Callers may provide a nil HTTP client; a reusable one with sensible
// timeouts will be created.
func NewGeminiProvider(opts GeminiOptions) *GeminiProvider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	return &GeminiProvider{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
	}
}

// Model returns the configured Gemini model identifier.
func (p *GeminiProvider) Model() string { return p.model }

func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.NewError(domain.KindPermanentUpstream, "Prompt must not be empty", nil)
	}
	if p.apiKey == "" {
		return nil, domain.NewError(domain.KindPermanentUpstream, "Image provider is not configured", nil)
	}

	parts := []geminiPart{{Text: buildGeminiPrompt(req)}}
	for _, src := range req.Sources {
		if len(src.Data) > 0 {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: orDefault(src.MIMEType, "image/png"),
				Data:     base64.StdEncoding.EncodeToString(src.Data),
			}})
			continue
		}
		if src.URL != "" {
			parts = append(parts, geminiPart{FileData: &geminiFileData{
				MimeType: src.MIMEType,
				FileURI:  src.URL,
			}})
		}
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:   1,
			ResponseModality: []string{"IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	if err := p.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(p.model)), payload, &response); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			w, h := decodeImageDimensions(data)
			return &Asset{
				Data:     data,
				MIMEType: orDefault(part.InlineData.MimeType, "image/png"),
				Width:    w,
				Height:   h,
			}, nil
		}
	}

	return nil, domain.NewError(domain.KindTransientUpstream, "Provider returned no image", nil)
}

func (p *GeminiProvider) invoke(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.NewError(domain.KindPermanentUpstream, "Could not encode provider request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.NewError(domain.KindPermanentUpstream, "Could not build provider request", err)
	}
	q := req.URL.Query()
	q.Set("key", p.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Network and timeout failures are retryable.
		return domain.NewError(domain.KindTransientUpstream, "Image provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		kind := classifyStatus(resp.StatusCode)
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return domain.NewError(kind, "Image provider rejected the request", fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message))
		}
		data, _ := io.ReadAll(resp.Body)
		return domain.NewError(kind, "Image provider rejected the request", fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewError(domain.KindTransientUpstream, "Could not decode provider response", err)
	}
	return nil
}

func buildGeminiPrompt(req GenerateRequest) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Prompt))
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		b.WriteString("\nAspect ratio: ")
		b.WriteString(aspect)
	}
	return b.String()
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var _ Generator = (*GeminiProvider)(nil)
