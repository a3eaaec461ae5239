package security

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"previewd/internal/config"
	"previewd/internal/models"
)

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".js": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {},
	".vbs": {}, ".ps1": {}, ".sh": {}, ".php": {}, ".jar": {}, ".dll": {},
	".msi": {}, ".app": {}, ".deb": {}, ".rpm": {},
}

var botUAPatterns = []string{"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests"}

// Validator classifies a request before any content is rendered. It
// never touches the file bytes; it only scores the request shape.
type Validator struct {
	cfg       *config.SecurityConfig
	limiter   RateLimiter
	blocklist Blocklist
	waf       *WAFEngine
	logger    *zap.Logger
}

func NewValidator(cfg *config.SecurityConfig, limiter RateLimiter, blocklist Blocklist, logger *zap.Logger) *Validator {
	return &Validator{
		cfg:       cfg,
		limiter:   limiter,
		blocklist: blocklist,
		waf:       NewWAFEngine(cfg.WAFRules),
		logger:    logger,
	}
}

// Validate runs every check: the side-effecting request-phase checks
// (rate limit, blocklist, filename, user agent, request-phase WAF
// rules) and the pure content-phase checks (size, declared type,
// content-phase WAF rules).
func (v *Validator) Validate(ctx context.Context, sc models.SecurityContext, fileSize int64, contentType, filename string) *models.ValidationResult {
	violations := v.requestViolations(ctx, sc, filename)
	violations = append(violations, v.contentViolations(fileSize, contentType)...)
	return v.finalize(violations)
}

// ValidateRequest runs only the checks that need no file metadata, so
// hostile requests are rejected before any storage access. Mutates
// the rate limit counter.
func (v *Validator) ValidateRequest(ctx context.Context, sc models.SecurityContext, filename string) *models.ValidationResult {
	return v.finalize(v.requestViolations(ctx, sc, filename))
}

// ValidateContent runs the pure size/type checks once the source has
// been stat'ed. No side effects.
func (v *Validator) ValidateContent(fileSize int64, contentType string) *models.ValidationResult {
	return v.finalize(v.contentViolations(fileSize, contentType))
}

// Merge combines two results, recomputing the capped score and the
// allow decision over the union of violations.
func (v *Validator) Merge(a, b *models.ValidationResult) *models.ValidationResult {
	combined := make([]models.Violation, 0, len(a.Violations)+len(b.Violations))
	combined = append(combined, a.Violations...)
	combined = append(combined, b.Violations...)
	return v.finalize(combined)
}

// RateLimitStatus exposes the current window counter for the admin
// surface.
func (v *Validator) RateLimitStatus(ctx context.Context, userID, ip string) (count, limit int, err error) {
	count, limit, _, err = v.limiter.Status(ctx, RateLimitKey(userID, ip))
	return count, limit, err
}

// RateLimitKey derives the fixed-window counter key for a caller.
func RateLimitKey(userID, ip string) string {
	return userID + "|" + ip
}

func (v *Validator) requestViolations(ctx context.Context, sc models.SecurityContext, filename string) []models.Violation {
	var violations []models.Violation

	key := sc.RateLimitKey
	if key == "" {
		key = RateLimitKey("", sc.IPAddress)
	}

	requestRate := 0
	allowed, count, err := v.limiter.Allow(ctx, key)
	if err != nil {
		// Limiter backend failure fails open: the request proceeds and
		// the outage is logged.
		v.logger.Warn("rate limiter unavailable", zap.Error(err))
	} else {
		requestRate = count
		if !allowed {
			violations = append(violations, models.Violation{
				Type:           models.ViolationRateLimit,
				Severity:       models.SeverityHigh,
				Description:    "request rate exceeds the per-minute limit for this user and address",
				Recommendation: "retry after the current window rolls over",
			})
		}
	}

	blocked, err := v.blocklist.Contains(ctx, sc.IPAddress)
	if err != nil {
		v.logger.Warn("blocklist unavailable", zap.Error(err))
	} else if blocked {
		violations = append(violations, models.Violation{
			Type:           models.ViolationIPBlocked,
			Severity:       models.SeverityCritical,
			Description:    "source address is on the blocklist",
			Recommendation: "contact support if this address was banned in error",
		})
	}

	violations = append(violations, checkFilename(filename)...)
	violations = append(violations, checkUserAgent(sc.UserAgent)...)

	wafIn := WAFInput{
		RequestRate: requestRate,
		UserAgent:   sc.UserAgent,
		IPAddress:   sc.IPAddress,
	}
	matches := v.waf.Evaluate(wafIn,
		models.WAFConditionRequestRate, models.WAFConditionUserAgent, models.WAFConditionIPRange)
	violations = append(violations, wafViolations(matches)...)

	return violations
}

func (v *Validator) contentViolations(fileSize int64, contentType string) []models.Violation {
	var violations []models.Violation

	if fileSize > v.cfg.MaxFileSize {
		violations = append(violations, models.Violation{
			Type:           models.ViolationFileTooLarge,
			Severity:       models.SeverityMedium,
			Description:    "file exceeds the size ceiling",
			Recommendation: "upload a smaller file",
		})
	}

	if contentType != "" && !v.typeAllowed(contentType) {
		violations = append(violations, models.Violation{
			Type:           models.ViolationContentType,
			Severity:       models.SeverityHigh,
			Description:    "content type is not on the allow list",
			Recommendation: "only images, PDFs and plain text formats are previewable",
		})
	}

	matches := v.waf.Evaluate(WAFInput{FileSize: fileSize, FileType: contentType},
		models.WAFConditionFileSize, models.WAFConditionFileType)
	violations = append(violations, wafViolations(matches)...)

	return violations
}

func (v *Validator) typeAllowed(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, allowed := range v.cfg.AllowedTypes {
		if base == allowed {
			return true
		}
		if strings.HasSuffix(allowed, "/*") && strings.HasPrefix(base, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}
	return false
}

func checkFilename(filename string) []models.Violation {
	if filename == "" {
		return nil
	}

	var violations []models.Violation
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		violations = append(violations, models.Violation{
			Type:           models.ViolationFilename,
			Severity:       models.SeverityCritical,
			Description:    "filename contains a path traversal sequence",
			Recommendation: "use a plain filename without directory separators",
		})
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, dangerous := dangerousExtensions[ext]; dangerous {
		violations = append(violations, models.Violation{
			Type:           models.ViolationFilename,
			Severity:       models.SeverityCritical,
			Description:    "filename has an executable extension",
			Recommendation: "executables are never previewable",
		})
	}

	return violations
}

func checkUserAgent(ua string) []models.Violation {
	if len(ua) < 10 {
		return []models.Violation{{
			Type:           models.ViolationUserAgent,
			Severity:       models.SeverityMedium,
			Description:    "user agent is missing or too short",
			Recommendation: "use a standard client",
		}}
	}

	lowered := strings.ToLower(ua)
	for _, pattern := range botUAPatterns {
		if strings.Contains(lowered, pattern) {
			return []models.Violation{{
				Type:           models.ViolationUserAgent,
				Severity:       models.SeverityMedium,
				Description:    "user agent matches an automated client pattern",
				Recommendation: "automated preview generation may be throttled",
			}}
		}
	}
	return nil
}

func wafViolations(matches []RuleMatch) []models.Violation {
	var violations []models.Violation
	for _, m := range matches {
		severity := models.SeverityHigh
		if m.Rule.Action == models.WAFActionChallenge {
			severity = models.SeverityMedium
		}
		violations = append(violations, models.Violation{
			Type:           models.ViolationWAFRule,
			Severity:       severity,
			Description:    "request matched rule " + m.Rule.Name,
			Recommendation: "adjust the request or contact support",
		})
	}
	return violations
}

// finalize computes the capped risk score and the allow decision.
func (v *Validator) finalize(violations []models.Violation) *models.ValidationResult {
	score := 0
	for _, violation := range violations {
		score += v.weightFor(violation)
	}
	if score > 100 {
		score = 100
	}

	result := &models.ValidationResult{
		IsValid:    len(violations) == 0,
		Violations: violations,
		RiskScore:  score,
	}
	result.AllowPreview = !result.HasCritical() && score < v.cfg.RiskScoreThreshold
	return result
}

func (v *Validator) weightFor(violation models.Violation) int {
	w := v.cfg.Weights
	switch violation.Type {
	case models.ViolationRateLimit:
		return w.RateLimit
	case models.ViolationIPBlocked:
		return w.Blocklist
	case models.ViolationFileTooLarge:
		return w.FileSize
	case models.ViolationContentType:
		return w.ContentType
	case models.ViolationFilename:
		return w.Filename
	case models.ViolationUserAgent:
		return w.UserAgent
	case models.ViolationWAFRule:
		return w.WAFMatch
	default:
		switch violation.Severity {
		case models.SeverityCritical:
			return 50
		case models.SeverityHigh:
			return 25
		case models.SeverityMedium:
			return 15
		default:
			return 5
		}
	}
}
