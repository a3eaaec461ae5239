package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"previewd/internal/config"
	"previewd/internal/models"
)

const goodUA = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/121.0"

func testValidator(t *testing.T, mutate func(*config.SecurityConfig)) (*Validator, *MemoryRateLimiter) {
	t.Helper()
	cfg := config.Default().Security
	if mutate != nil {
		mutate(&cfg)
	}
	limiter := NewMemoryRateLimiter(cfg.RateLimitPerMinute)
	blocklist := NewMemoryBlocklist(cfg.BlockedIPs)
	return NewValidator(&cfg, limiter, blocklist, zap.NewNop()), limiter
}

func testContext(ip string) models.SecurityContext {
	return models.SecurityContext{
		IPAddress:    ip,
		UserAgent:    goodUA,
		RequestID:    "req-1",
		Timestamp:    time.Now(),
		RateLimitKey: RateLimitKey("u1", ip),
	}
}

func TestValidateCleanRequest(t *testing.T) {
	v, _ := testValidator(t, nil)

	result := v.Validate(context.Background(), testContext("198.51.100.7"), 1024, "image/png", "photo.png")

	assert.True(t, result.IsValid)
	assert.True(t, result.AllowPreview)
	assert.Zero(t, result.RiskScore)
	assert.Empty(t, result.Violations)
}

func TestValidateBlockedIP(t *testing.T) {
	v, _ := testValidator(t, func(cfg *config.SecurityConfig) {
		cfg.BlockedIPs = []string{"203.0.113.66"}
	})

	result := v.Validate(context.Background(), testContext("203.0.113.66"), 1024, "image/png", "photo.png")

	assert.False(t, result.AllowPreview)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationIPBlocked, result.Violations[0].Type)
	assert.Equal(t, models.SeverityCritical, result.Violations[0].Severity)
}

func TestValidateRateLimitExceeded(t *testing.T) {
	v, limiter := testValidator(t, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	sc := testContext("198.51.100.7")

	for i := 0; i < 20; i++ {
		result := v.Validate(ctx, sc, 1024, "image/png", "photo.png")
		require.True(t, result.AllowPreview, "request %d should pass", i+1)
	}

	// 21st request in the same window is blocked.
	result := v.Validate(ctx, sc, 1024, "image/png", "photo.png")
	assert.False(t, result.AllowPreview)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, models.ViolationRateLimit, result.Violations[0].Type)

	// Allowed again after rollover.
	now = now.Add(rateWindow + time.Second)
	result = v.Validate(ctx, sc, 1024, "image/png", "photo.png")
	assert.True(t, result.AllowPreview)
}

func TestValidateFileSizeCeiling(t *testing.T) {
	v, _ := testValidator(t, func(cfg *config.SecurityConfig) {
		cfg.MaxFileSize = 1000
	})
	ctx := context.Background()

	// Exactly at the limit is accepted.
	result := v.Validate(ctx, testContext("198.51.100.7"), 1000, "image/png", "photo.png")
	assert.Empty(t, result.Violations)

	// One byte over produces a violation.
	result = v.Validate(ctx, testContext("198.51.100.8"), 1001, "image/png", "photo.png")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationFileTooLarge, result.Violations[0].Type)
	assert.Equal(t, models.SeverityMedium, result.Violations[0].Severity)
}

func TestValidateContentTypeAllowList(t *testing.T) {
	v, _ := testValidator(t, nil)
	ctx := context.Background()

	for _, allowed := range []string{"image/jpeg", "application/pdf", "text/plain", "text/csv", "application/json"} {
		result := v.Validate(ctx, testContext("198.51.100.7"), 10, allowed, "f.bin")
		assert.Empty(t, result.Violations, "type %s should be allowed", allowed)
	}

	result := v.Validate(ctx, testContext("198.51.100.7"), 10, "application/x-msdownload", "f.bin")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationContentType, result.Violations[0].Type)
}

func TestValidateDangerousFilenames(t *testing.T) {
	v, _ := testValidator(t, nil)
	ctx := context.Background()

	tests := []struct {
		filename string
		blocked  bool
	}{
		{"photo.png", false},
		{"../../etc/passwd.png", true},
		{"dir/photo.png", true},
		{`dir\photo.png`, true},
		{"payload.exe", true},
		{"script.js", true},
		{"run.ps1", true},
		{"report.pdf", false},
	}

	for _, tt := range tests {
		result := v.Validate(ctx, testContext("198.51.100.7"), 10, "image/png", tt.filename)
		if tt.blocked {
			assert.False(t, result.AllowPreview, "filename %q should block", tt.filename)
			assert.True(t, result.HasCritical(), "filename %q should be critical", tt.filename)
		} else {
			assert.True(t, result.AllowPreview, "filename %q should pass", tt.filename)
		}
	}
}

func TestValidateUserAgentHeuristics(t *testing.T) {
	v, _ := testValidator(t, nil)
	ctx := context.Background()

	sc := testContext("198.51.100.7")
	sc.UserAgent = ""
	result := v.Validate(ctx, sc, 10, "image/png", "photo.png")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationUserAgent, result.Violations[0].Type)
	// Medium severity alone does not block.
	assert.True(t, result.AllowPreview)

	sc.UserAgent = "python-requests/2.31.0"
	result = v.Validate(ctx, sc, 10, "image/png", "photo.png")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationUserAgent, result.Violations[0].Type)
}

func TestValidateRiskScoreAccumulates(t *testing.T) {
	v, _ := testValidator(t, func(cfg *config.SecurityConfig) {
		cfg.MaxFileSize = 100
	})
	ctx := context.Background()

	sc := testContext("198.51.100.7")
	sc.UserAgent = "curl/8.4"

	// Oversized (20) + disallowed type (25) + bot UA (15) = 60 >= 50.
	result := v.Validate(ctx, sc, 200, "video/mp4", "clip.mp4")
	assert.False(t, result.AllowPreview)
	assert.False(t, result.HasCritical())
	assert.Equal(t, 60, result.RiskScore)
}

func TestValidateRiskScoreCapped(t *testing.T) {
	v, _ := testValidator(t, func(cfg *config.SecurityConfig) {
		cfg.BlockedIPs = []string{"203.0.113.66"}
		cfg.MaxFileSize = 1
	})

	sc := testContext("203.0.113.66")
	sc.UserAgent = "curl/8.4"
	result := v.Validate(context.Background(), sc, 100, "video/mp4", "../evil.exe")

	assert.Equal(t, 100, result.RiskScore)
	assert.False(t, result.AllowPreview)
}

func TestValidateWAFRuleTable(t *testing.T) {
	v, _ := testValidator(t, func(cfg *config.SecurityConfig) {
		cfg.WAFRules = []models.WAFRule{
			{
				ID: "w1", Name: "tiny files are suspicious", Enabled: true, Priority: 1,
				Condition: models.WAFCondition{Type: models.WAFConditionFileSize, Operator: models.WAFOpLessThan, Value: "10"},
				Action:    models.WAFActionBlock,
			},
			{
				ID: "w2", Name: "challenge scanners", Enabled: true, Priority: 2,
				Condition: models.WAFCondition{Type: models.WAFConditionUserAgent, Operator: models.WAFOpContains, Value: "nikto"},
				Action:    models.WAFActionChallenge,
			},
		}
	})
	ctx := context.Background()

	result := v.Validate(ctx, testContext("198.51.100.7"), 5, "image/png", "photo.png")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.ViolationWAFRule, result.Violations[0].Type)
	assert.Equal(t, models.SeverityHigh, result.Violations[0].Severity)

	sc := testContext("198.51.100.7")
	sc.UserAgent = "Mozilla/5.0 nikto/2.1.6"
	result = v.Validate(ctx, sc, 5000, "image/png", "photo.png")
	require.Len(t, result.Violations, 1)
	assert.Equal(t, models.SeverityMedium, result.Violations[0].Severity)
}

func TestValidatorNeverRendersContent(t *testing.T) {
	// The validator only classifies: identical calls with a benign
	// request shape never mutate anything but the rate counter.
	v, limiter := testValidator(t, nil)
	ctx := context.Background()

	_ = v.Validate(ctx, testContext("198.51.100.7"), 10, "image/png", "photo.png")
	count, _, _, err := limiter.Status(ctx, RateLimitKey("u1", "198.51.100.7"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
