package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pixelmint/internal/domain"
)

func geminiImageResponse(data []byte) geminiGenerateContentResponse {
	var resp geminiGenerateContentResponse
	resp.Candidates = []geminiCandidate{{
		Content: geminiContent{Parts: []geminiPart{{
			InlineData: &geminiInlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(data)},
		}}},
	}}
	return resp
}

func TestGeminiGenerateDecodesInlineImage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Fatalf("missing api key, query: %s", r.URL.RawQuery)
		}
		var payload geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload.Contents) != 1 || len(payload.Contents[0].Parts) != 2 {
			t.Fatalf("unexpected request shape: %+v", payload)
		}
		if payload.Contents[0].Parts[1].InlineData == nil {
			t.Fatalf("reference image not inlined: %+v", payload.Contents[0].Parts[1])
		}
		_ = json.NewEncoder(w).Encode(geminiImageResponse([]byte{0x89, 0x50, 0x4e, 0x47}))
	}))
	defer ts.Close()

	p := NewGeminiProvider(GeminiOptions{APIKey: "test-key", BaseURL: ts.URL})
	asset, err := p.Generate(context.Background(), GenerateRequest{
		Prompt:  "a red fox in snow",
		Sources: []SourceImage{{Data: []byte{1, 2, 3}, MIMEType: "image/png"}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(asset.Data) != 4 {
		t.Fatalf("asset data mismatch: %v", asset.Data)
	}
	if asset.MIMEType != "image/png" {
		t.Fatalf("mime mismatch: %s", asset.MIMEType)
	}
}

func TestGeminiClassifiesServerErrorAsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := NewGeminiProvider(GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindTransientUpstream {
		t.Fatalf("expected transient, got %s", domain.KindOf(err))
	}
}

func TestGeminiClassifiesBadRequestAsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"invalid"}}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	p := NewGeminiProvider(GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindPermanentUpstream {
		t.Fatalf("expected permanent, got %s", domain.KindOf(err))
	}
}

func TestGeminiRateLimitIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer ts.Close()

	p := NewGeminiProvider(GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestGeminiMissingKeyFailsPermanently(t *testing.T) {
	p := NewGeminiProvider(GeminiOptions{})
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	var e *domain.Error
	if !errors.As(err, &e) || e.Kind != domain.KindPermanentUpstream {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestOpenAIRejectsReferenceImages(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIOptions{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	_, err = p.Generate(context.Background(), GenerateRequest{
		Prompt:  "x",
		Sources: []SourceImage{{URL: "https://example.com/a.png"}},
	})
	if domain.KindOf(err) != domain.KindPermanentUpstream {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
