// Package orchestrator runs one generation job end to end: record state
// transitions, reference resolution, the billed per-image generation
// loop, durable persistence of outputs, and push notifications.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/genclient"
	"pixelmint/internal/notify"
	"pixelmint/internal/providers/image"
	"pixelmint/internal/storage"
	"pixelmint/internal/tempcache"
)

const (
	minImageCount = 1
	maxImageCount = 4

	debitReasonGeneration = "image_generation"
)

// Retryable reports whether a pipeline failure is worth another job
// attempt. Permanent rejections, balance and validation failures, and
// storage failures after billed generations are final; retrying the
// latter would bill the user again for images already produced.
func Retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindTransientUpstream, domain.KindRateLimited:
		return true
	default:
		return false
	}
}

// Invoker is the single-image generation call. Invoke bills the ledger
// on success; Regenerate repeats the provider call for an image a prior
// attempt already paid for. Satisfied by genclient.Client.
type Invoker interface {
	Invoke(ctx context.Context, userID string, req image.GenerateRequest, reasonCode, referenceID string) (*genclient.Result, error)
	Regenerate(ctx context.Context, userID string, req image.GenerateRequest) (*image.Asset, error)
	CostPerImage() int
}

// Orchestrator executes claimed jobs. It is safe for concurrent use by
// multiple workers.
type Orchestrator struct {
	gens      domain.GenerationRepository
	templates domain.TemplateRepository
	ledger    domain.TokenLedger
	cache     tempcache.Cache
	store     storage.BlobStore
	notifier  notify.Notifier
	client    Invoker
	logger    zerolog.Logger
}

// New wires an orchestrator from its collaborators.
func New(
	gens domain.GenerationRepository,
	templates domain.TemplateRepository,
	ledger domain.TokenLedger,
	cache tempcache.Cache,
	store storage.BlobStore,
	notifier notify.Notifier,
	client Invoker,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gens:      gens,
		templates: templates,
		ledger:    ledger,
		cache:     cache,
		store:     store,
		notifier:  notifier,
		client:    client,
		logger:    logger,
	}
}

// Execute runs the job's generation to a terminal record state. The
// returned error is the pipeline failure for the queue's retry decision;
// the record and the user notification are already settled either way.
func (o *Orchestrator) Execute(ctx context.Context, job *domain.Job) error {
	payload := job.Payload
	start := time.Now()

	var touched []string
	defer func() {
		// Staged inputs consumed by this run are released regardless of
		// outcome; the job context may already be canceled.
		cleanupCtx := context.WithoutCancel(ctx)
		for _, tempID := range touched {
			o.cache.Release(cleanupCtx, tempID)
		}
	}()

	attemptsRemain := job.AttemptCount < job.MaxAttempts
	fail := func(cause error) error {
		if Retryable(cause) && attemptsRemain {
			// The queue will run this job again; the record stays
			// non-terminal so the next attempt can finish it.
			o.logger.Warn().Err(cause).
				Str("generation_id", payload.GenerationID).
				Int("attempt", job.AttemptCount).
				Msg("orchestrator: attempt failed, job will retry")
			return cause
		}
		msg := domain.UserMessage(cause)
		if err := o.gens.MarkFailed(context.WithoutCancel(ctx), payload.GenerationID, msg); err != nil {
			o.logger.Error().Err(err).
				Str("generation_id", payload.GenerationID).
				Msg("orchestrator: mark failed did not persist")
		}
		o.notifier.EmitToUser(job.UserID, notify.EventFailed, notify.FailedEvent{
			GenerationID: payload.GenerationID,
			Error:        msg,
		})
		return cause
	}

	if err := o.gens.MarkProcessing(ctx, payload.GenerationID); err != nil {
		return fail(domain.NewError(domain.KindTransientUpstream, "Could not start generation", err))
	}

	count := payload.ImageCount
	if count < minImageCount {
		count = minImageCount
	}
	if count > maxImageCount {
		count = maxImageCount
	}

	// A re-attempt after a mid-batch failure must absorb the images the
	// prior attempt already billed; the ledger, not in-memory job state,
	// records how far billing got.
	priorDebits, err := o.priorDebits(ctx, payload.GenerationID)
	if err != nil {
		return fail(err)
	}
	billed := len(priorDebits)
	if billed > count {
		billed = count
	}
	tokensUsed := 0
	for i := 0; i < billed; i++ {
		tokensUsed += priorDebits[i].Amount
	}
	if billed > 0 {
		o.logger.Info().
			Str("generation_id", payload.GenerationID).
			Int("attempt", job.AttemptCount).
			Int("billed_prior", billed).
			Msg("orchestrator: resuming after a billed partial attempt")
	}

	// Progress never regresses across attempts: a retry reports from the
	// percentage the prior attempt's billing had already reached.
	floor := 0
	if billed > 0 {
		floor = 40 + (billed*40)/count
	}
	progress := func(pct int, msg string) {
		if pct < floor {
			pct = floor
		}
		floor = pct
		o.progress(job.UserID, payload.GenerationID, pct, msg)
	}

	progress(10, "starting")

	sources, err := o.resolveInputs(ctx, payload.Inputs, &touched)
	if err != nil {
		return fail(err)
	}
	if len(sources) > 0 {
		progress(25, "reference images ready")
	}

	prompt, err := o.resolvePrompt(ctx, payload)
	if err != nil {
		return fail(err)
	}
	progress(30, "prompt prepared")

	outputs := make([]domain.OutputImage, count)
	var (
		wg         sync.WaitGroup
		persistMu  sync.Mutex
		persistErr error
	)
	remaining := -1

	for i := 0; i < count; i++ {
		req := image.GenerateRequest{
			Prompt:      prompt,
			AspectRatio: payload.AspectRatio,
			Sources:     sources,
			RequestID:   fmt.Sprintf("%s-%d", payload.GenerationID, i+1),
		}
		var asset *image.Asset
		if i < billed {
			// Paid for by a prior attempt; the provider call is repeated,
			// the debit is not.
			asset, err = o.client.Regenerate(ctx, job.UserID, req)
			if err != nil {
				wg.Wait()
				return fail(err)
			}
		} else {
			res, invErr := o.client.Invoke(ctx, job.UserID, req, debitReasonGeneration, payload.GenerationID)
			if invErr != nil {
				wg.Wait()
				return fail(invErr)
			}
			asset = res.Asset
			tokensUsed += res.TokensCharged
			remaining = res.RemainingBalance
		}

		// Persistence overlaps with the next provider call; generation
		// order is preserved by the slot index.
		wg.Add(1)
		go func(idx int, asset *image.Asset) {
			defer wg.Done()
			out, err := o.persistAsset(context.WithoutCancel(ctx), job.UserID, asset)
			persistMu.Lock()
			defer persistMu.Unlock()
			if err != nil {
				if persistErr == nil {
					persistErr = err
				}
				return
			}
			outputs[idx] = out
		}(i, asset)

		progress(40+((i+1)*40)/count, fmt.Sprintf("image %d of %d generated", i+1, count))
	}
	wg.Wait()
	if persistErr != nil {
		return fail(persistErr)
	}
	if remaining < 0 {
		// Every image was billed by a prior attempt; read the balance for
		// the completion summary.
		remaining = 0
		if bal, balErr := o.ledger.Balance(ctx, job.UserID); balErr == nil {
			remaining = bal
		}
	}

	durationMs := time.Since(start).Milliseconds()
	if err := o.gens.MarkCompleted(ctx, payload.GenerationID, outputs, tokensUsed, durationMs, prompt); err != nil {
		return fail(domain.NewError(domain.KindTransientUpstream, "Could not record completion", err))
	}

	progress(100, "completed")
	urls := make([]string, 0, len(outputs))
	for _, out := range outputs {
		urls = append(urls, out.URL)
	}
	o.notifier.EmitToUser(job.UserID, notify.EventCompleted, notify.CompletedEvent{
		GenerationID: payload.GenerationID,
		Images:       urls,
		Tokens:       notify.TokenSummary{Used: tokensUsed, Remaining: remaining},
	})

	o.logger.Info().
		Str("generation_id", payload.GenerationID).
		Str("user_id", job.UserID).
		Int("images", count).
		Int("tokens_used", tokensUsed).
		Int64("duration_ms", durationMs).
		Msg("orchestrator: generation completed")
	return nil
}

// priorDebits returns the debit entries earlier attempts recorded for
// this generation, in ledger order.
func (o *Orchestrator) priorDebits(ctx context.Context, generationID string) ([]domain.TokenTransaction, error) {
	txs, err := o.ledger.TransactionsByReference(ctx, generationID)
	if err != nil {
		return nil, domain.NewError(domain.KindTransientUpstream, "Could not read billing history", err)
	}
	var debits []domain.TokenTransaction
	for _, tx := range txs {
		if tx.Type == domain.TransactionDebit {
			debits = append(debits, tx)
		}
	}
	return debits, nil
}

// resolveInputs loads each reference image, preferring the staged copy
// and falling back to durable storage on any cache miss. Temp ids that
// resolved are recorded in touched for release after the run.
func (o *Orchestrator) resolveInputs(ctx context.Context, inputs []domain.InputImage, touched *[]string) ([]image.SourceImage, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	sources := make([]image.SourceImage, 0, len(inputs))
	for _, in := range inputs {
		if in.TempID != "" {
			path, err := o.cache.Resolve(ctx, in.TempID)
			if err == nil {
				data, readErr := os.ReadFile(path)
				if readErr == nil {
					*touched = append(*touched, in.TempID)
					sources = append(sources, image.SourceImage{Data: data, MIMEType: http.DetectContentType(data)})
					continue
				}
				o.logger.Warn().Err(readErr).Str("temp_id", in.TempID).Msg("orchestrator: staged file unreadable, using durable copy")
			}
		}
		if in.DurableRef == "" {
			return nil, domain.NewError(domain.KindValidation, "Reference image is no longer available", nil)
		}
		data, err := o.store.Read(ctx, in.DurableRef)
		if err != nil {
			return nil, domain.NewError(domain.KindStorageFailure, "Could not load reference image", err)
		}
		sources = append(sources, image.SourceImage{Data: data, MIMEType: http.DetectContentType(data)})
	}
	return sources, nil
}

func (o *Orchestrator) persistAsset(ctx context.Context, userID string, asset *image.Asset) (domain.OutputImage, error) {
	if len(asset.Data) == 0 {
		if asset.URL == "" {
			return domain.OutputImage{}, domain.NewError(domain.KindPermanentUpstream, "Provider returned an empty image", nil)
		}
		// Provider-hosted output; record the address as-is.
		return domain.OutputImage{URL: asset.URL, MIMEType: asset.MIMEType}, nil
	}
	obj, err := o.store.Put(ctx, asset.Data, asset.MIMEType, "generations/"+userID)
	if err != nil {
		return domain.OutputImage{}, domain.NewError(domain.KindStorageFailure, "Could not store generated image", err)
	}
	return domain.OutputImage{StorageKey: obj.Key, URL: obj.URL, MIMEType: asset.MIMEType}, nil
}

func (o *Orchestrator) progress(userID, generationID string, pct int, msg string) {
	o.notifier.EmitToUser(userID, notify.EventProgress, notify.ProgressEvent{
		GenerationID: generationID,
		Progress:     pct,
		Message:      msg,
	})
}

var _ Invoker = (*genclient.Client)(nil)
