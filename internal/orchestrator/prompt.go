package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pixelmint/internal/domain"
)

// promptPlaceholder marks where a template wants the user prompt
// inserted. Templates without it get the prompt appended.
const promptPlaceholder = "{prompt}"

var referenceInstructions = map[domain.ReferenceStyle]string{
	domain.RefStyleSubject: "Use the reference image as the subject. Preserve the subject's " +
		"identity, shape, and distinguishing details; follow the prompt for scene, style, and composition.",
	domain.RefStyleFace: "Use the face from the reference image. Preserve facial identity and " +
		"proportions exactly; apply the prompt only to styling, outfit, background, and lighting.",
	domain.RefStyleFullImage: "Use the reference image as the base. Keep its overall composition " +
		"and content, applying the prompt as a transformation of style, mood, and detail.",
}

// resolvePrompt builds the final provider prompt: the optional template
// wraps the user prompt, then the operation kind appends its reference
// instruction block. A missing or inactive template falls back to the
// raw prompt; a store failure is surfaced so the job can retry.
func (o *Orchestrator) resolvePrompt(ctx context.Context, payload domain.JobPayload) (string, error) {
	base := strings.TrimSpace(payload.Prompt)

	if payload.TemplateID != "" {
		tpl, err := o.templates.GetByID(ctx, payload.TemplateID)
		switch {
		case err == nil && tpl.IsActive:
			base = applyTemplate(tpl.Prompt, base)
		case err == nil:
			o.logger.Debug().Str("template_id", payload.TemplateID).Msg("orchestrator: template inactive, using raw prompt")
		case errors.Is(err, domain.ErrNotFound):
			o.logger.Debug().Str("template_id", payload.TemplateID).Msg("orchestrator: template missing, using raw prompt")
		default:
			return "", domain.NewError(domain.KindTransientUpstream, "Could not load prompt template", err)
		}
	}

	switch payload.Kind {
	case domain.OpTextOnly:
		return base, nil
	case domain.OpSingleReference:
		instruction, ok := referenceInstructions[payload.RefStyle]
		if !ok {
			instruction = referenceInstructions[domain.RefStyleSubject]
		}
		return base + "\n\n" + instruction, nil
	case domain.OpMultiReference:
		n := len(payload.Inputs)
		instruction := fmt.Sprintf("Blend the %d reference images into one coherent result. "+
			"Combine their subjects and styles as described by the prompt, keeping a single consistent composition.", n)
		return base + "\n\n" + instruction, nil
	default:
		return "", domain.NewError(domain.KindValidation, "Unknown operation kind", nil)
	}
}

func applyTemplate(template, prompt string) string {
	if strings.Contains(template, promptPlaceholder) {
		return strings.ReplaceAll(template, promptPlaceholder, prompt)
	}
	if prompt == "" {
		return template
	}
	return template + "\n\n" + prompt
}
