// Package image defines the external image generation capability and
// its provider implementations. Providers classify their failures as
// transient or permanent so the calling layer can retry correctly.
package image

import (
	"context"
	"net/http"

	"pixelmint/internal/domain"
)

// SourceImage is one reference input. Either URL points at an addressable
// blob or Data carries the bytes directly (staged uploads).
type SourceImage struct {
	URL      string
	Data     []byte
	MIMEType string
}

// GenerateRequest asks for exactly one output image. The orchestrator
// loops for multi-image requests so each image is billed independently.
type GenerateRequest struct {
	Prompt      string
	AspectRatio string
	Sources     []SourceImage
	RequestID   string
}

// Asset is one generated image as returned by a provider.
type Asset struct {
	Data     []byte
	URL      string
	MIMEType string
	Width    int
	Height   int
}

// Generator is the opaque generation capability.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Asset, error)
}

// classifyStatus maps an upstream HTTP status onto the error taxonomy:
// 5xx and 408/429 are retryable, everything else 4xx is a bad request.
func classifyStatus(status int) domain.ErrorKind {
	switch {
	case status >= http.StatusInternalServerError:
		return domain.KindTransientUpstream
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return domain.KindTransientUpstream
	default:
		return domain.KindPermanentUpstream
	}
}
