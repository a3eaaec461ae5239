// Package preview coordinates the pipeline:
// Validating -> Blocked | Validated -> CacheHit | CacheMiss ->
// Rendering -> RenderFailed | Rendered -> Cached.
package preview

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"previewd/internal/cache"
	"previewd/internal/config"
	"previewd/internal/models"
	"previewd/internal/observability"
	"previewd/internal/render"
	"previewd/internal/scanner"
	"previewd/internal/security"
	"previewd/internal/storage"
)

// Response is the terminal result of one preview request.
type Response struct {
	Success          bool                 `json:"success"`
	PreviewURL       string               `json:"previewUrl,omitempty"`
	ThumbnailURL     string               `json:"thumbnailUrl,omitempty"`
	Metadata         *models.FileMetadata `json:"metadata,omitempty"`
	SecurityWarnings []models.Violation   `json:"securityWarnings,omitempty"`
	Violations       []models.Violation   `json:"violations,omitempty"`
	RiskScore        int                  `json:"riskScore,omitempty"`
	Cached           bool                 `json:"cached,omitempty"`
	Error            *models.Error        `json:"error,omitempty"`
}

type Orchestrator struct {
	validator *security.Validator
	scanner   *scanner.Scanner
	renderer  *render.Renderer
	pdf       render.PDFRenderer
	cache     *cache.Store
	source    storage.BlobStorage

	renderSem    *semaphore.Weighted
	fetchTimeout time.Duration
	renderTime   time.Duration

	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

func NewOrchestrator(
	cfg *config.RenderConfig,
	validator *security.Validator,
	scn *scanner.Scanner,
	renderer *render.Renderer,
	cacheStore *cache.Store,
	source storage.BlobStorage,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		validator:    validator,
		scanner:      scn,
		renderer:     renderer,
		pdf:          renderer,
		cache:        cacheStore,
		source:       source,
		renderSem:    semaphore.NewWeighted(maxConcurrent),
		fetchTimeout: cfg.FetchTimeout.Std(),
		renderTime:   cfg.Timeout.Std(),
		metrics:      metrics,
		tracer:       otel.Tracer("previewd/preview"),
		logger:       logger,
	}
}

// Generate runs one request through the pipeline. The response always
// reflects a terminal state; transport-level errors do not exist at
// this layer.
func (o *Orchestrator) Generate(ctx context.Context, req models.PreviewRequest, sc models.SecurityContext) *Response {
	ctx, span := o.tracer.Start(ctx, "preview.generate")
	defer span.End()

	logger := observability.WithRequestID(o.logger, sc.RequestID)

	// Request shape.
	if req.FileURL == "" || req.UserID == "" {
		return o.outcome("invalid", &Response{
			Error: models.NewValidationError(models.ReasonInvalidRequest, "fileUrl and userId are required"),
		})
	}
	previewType := req.PreviewType
	if previewType == "" {
		previewType = models.PreviewTypeThumbnail
	}
	if previewType != models.PreviewTypeThumbnail && previewType != models.PreviewTypeFull {
		return o.outcome("invalid", &Response{
			Error: models.NewValidationError(models.ReasonInvalidRequest, "previewType must be thumbnail or full"),
		})
	}
	opts := render.NormalizeOptions(req.Options, previewType)

	// Resolve the opaque reference. Happens before any storage call.
	filename, err := resolveReference(req.FileURL)
	if err != nil {
		return o.outcome("invalid", &Response{Error: models.AsError(err)})
	}

	// Request-phase validation: no file metadata needed, and hostile
	// requests never reach storage.
	requestResult := o.validator.ValidateRequest(ctx, sc, filename)
	if !requestResult.AllowPreview {
		return o.blocked(logger, sc, requestResult)
	}

	// Stat the source for size and declared type.
	statCtx, cancelStat := context.WithTimeout(ctx, o.fetchTimeout)
	info, err := o.source.Stat(statCtx, filename)
	cancelStat()
	if err != nil {
		return o.outcome("retrieval_failed", &Response{Error: retrievalError(err)})
	}

	contentResult := o.validator.ValidateContent(info.Size, info.ContentType)
	merged := o.validator.Merge(requestResult, contentResult)
	if !merged.AllowPreview {
		return o.blocked(logger, sc, merged)
	}

	// Cache lookup. A hit returns without fetching the body.
	key := cache.Key(req.FileURL, req.UserID, previewType, opts)
	if entry := o.cache.Get(ctx, key); entry != nil {
		o.metrics.CacheHits.Inc()
		resp := responseFromEntry(entry, merged.Warnings())
		resp.Cached = true
		return o.outcome("cache_hit", resp)
	}
	o.metrics.CacheMisses.Inc()

	// Miss: fetch, scan, render and store, bounded by the render
	// semaphore since decoding dominates memory cost.
	if err := o.renderSem.Acquire(ctx, 1); err != nil {
		return o.outcome("render_failed", &Response{
			Error: models.NewTimeoutError(models.CategoryRender, "render slot wait cancelled", err),
		})
	}
	defer o.renderSem.Release(1)

	fetchCtx, cancelFetch := context.WithTimeout(ctx, o.fetchTimeout)
	obj, err := o.source.Get(fetchCtx, filename)
	cancelFetch()
	if err != nil {
		return o.outcome("retrieval_failed", &Response{Error: retrievalError(err)})
	}

	// From here on the work is idempotent and keyed: caller
	// cancellation only suppresses delivery, so the render runs on a
	// detached context with its own deadline and may still populate
	// the cache.
	renderCtx, cancelRender := context.WithTimeout(context.WithoutCancel(ctx), o.renderTime)
	defer cancelRender()

	result, warnings, rerr := o.scanAndRender(renderCtx, obj, opts)
	if rerr != nil {
		pe := models.AsError(rerr)
		o.metrics.RenderFailures.WithLabelValues(pe.Reason).Inc()
		logger.Warn("render failed",
			zap.String("file_url", req.FileURL),
			zap.String("reason", pe.Reason),
			zap.Error(pe))
		return o.outcome("render_failed", &Response{Error: pe})
	}

	// Metadata mixes source facts (name, size) with render facts
	// (dimensions, checksum of the artifact).
	md := result.Metadata
	md.Filename = filename
	md.FileSize = info.Size

	entry, err := o.cache.Put(renderCtx, key, req.FileURL, previewType, result.Data, md, 0)
	if err != nil {
		// Failing to persist a freshly rendered artifact is fatal for
		// this request: success must never reference a missing blob.
		return o.outcome("cache_failed", &Response{Error: models.AsError(err)})
	}

	logger.Info("preview rendered",
		zap.String("file_url", req.FileURL),
		zap.String("cache_key", key),
		zap.String("source_etag", info.ETag),
		zap.Int64("artifact_bytes", int64(len(result.Data))))

	allWarnings := append(merged.Warnings(), warnings...)
	return o.outcome("rendered", responseFromEntry(entry, allWarnings))
}

func (o *Orchestrator) scanAndRender(ctx context.Context, obj *storage.Object, opts models.PreviewOptions) (*render.Result, []models.Violation, error) {
	ctx, span := o.tracer.Start(ctx, "preview.render")
	defer span.End()

	start := time.Now()
	defer func() { o.metrics.RenderDuration.Observe(time.Since(start).Seconds()) }()

	scanResult, err := o.scanner.Scan(obj.Data, obj.ContentType)
	if err != nil {
		return nil, nil, err
	}

	base := strings.ToLower(strings.Split(obj.ContentType, ";")[0])
	var result *render.Result
	switch {
	case base == "application/pdf":
		result, err = o.pdf.RenderPDFPreview(ctx, obj.Data, opts)
	case strings.HasPrefix(base, "image/"):
		result, err = o.renderer.RenderImage(ctx, obj.Data, opts, obj.ContentType)
	default:
		return nil, nil, models.NewRenderError(models.ReasonUnsupportedType,
			"no renderer for content type "+obj.ContentType, nil)
	}
	if err != nil {
		return nil, nil, err
	}
	return result, scanResult.Warnings, nil
}

func (o *Orchestrator) blocked(logger *zap.Logger, sc models.SecurityContext, result *models.ValidationResult) *Response {
	o.metrics.BlockedRequests.Inc()
	logger.Warn("request blocked",
		zap.String("ip", sc.IPAddress),
		zap.Int("risk_score", result.RiskScore),
		zap.Int("violations", len(result.Violations)))
	return o.outcome("blocked", &Response{
		Violations: result.Violations,
		RiskScore:  result.RiskScore,
		Error: &models.Error{
			Category: models.CategorySecurity,
			Reason:   "policy_violation",
			Message:  "request rejected by security policy",
		},
	})
}

func (o *Orchestrator) outcome(label string, resp *Response) *Response {
	o.metrics.PreviewRequests.WithLabelValues(label).Inc()
	return resp
}

// resolveReference parses "store://bucket/name.ext" into the storage
// key. The key must be a plain object name: traversal sequences are a
// security violation handled by the validator, which receives the raw
// key as the filename.
func resolveReference(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", models.NewValidationError(models.ReasonInvalidReference, "file reference is not a valid URL")
	}
	if u.Scheme != "store" && u.Scheme != "file" {
		return "", models.NewValidationError(models.ReasonInvalidReference,
			"unsupported reference scheme "+u.Scheme)
	}

	key := strings.TrimPrefix(u.Path, "/")
	if u.Scheme == "file" && u.Host != "" {
		key = u.Host + "/" + key
	}
	if key == "" {
		return "", models.NewValidationError(models.ReasonInvalidReference, "file reference has no object key")
	}
	return key, nil
}

func retrievalError(err error) *models.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewTimeoutError(models.CategoryRetrieval, "source fetch timed out", err)
	}
	return models.NewRetrievalError(models.ReasonFetchFailed, "source fetch failed", err)
}

func responseFromEntry(entry *models.CacheEntry, warnings []models.Violation) *Response {
	md := entry.Metadata
	return &Response{
		Success:          true,
		PreviewURL:       entry.PreviewURL,
		ThumbnailURL:     entry.ThumbnailURL,
		Metadata:         &md,
		SecurityWarnings: warnings,
	}
}
