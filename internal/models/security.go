package models

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ViolationType string

const (
	ViolationRateLimit    ViolationType = "rate_limit_exceeded"
	ViolationIPBlocked    ViolationType = "ip_blocked"
	ViolationFileTooLarge ViolationType = "file_too_large"
	ViolationContentType  ViolationType = "content_type_not_allowed"
	ViolationFilename     ViolationType = "dangerous_filename"
	ViolationUserAgent    ViolationType = "suspicious_user_agent"
	ViolationWAFRule      ViolationType = "waf_rule_match"
	ViolationScriptInject ViolationType = "script_injection"
	ViolationActivePDF    ViolationType = "pdf_active_content"
	ViolationPDFForm      ViolationType = "pdf_form_content"
	ViolationExternalURI  ViolationType = "pdf_external_uri"
)

// Violation is produced by the validator or scanner and never mutated.
type Violation struct {
	Type           ViolationType `json:"type"`
	Severity       Severity      `json:"severity"`
	Description    string        `json:"description"`
	Recommendation string        `json:"recommendation,omitempty"`
}

// ValidationResult aggregates all violations for one request.
// AllowPreview is false when any critical violation exists or the
// capped risk score reaches the configured threshold.
type ValidationResult struct {
	IsValid      bool        `json:"isValid"`
	Violations   []Violation `json:"violations"`
	RiskScore    int         `json:"riskScore"`
	AllowPreview bool        `json:"allowPreview"`
}

// HasCritical reports whether any violation is critical.
func (r *ValidationResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Warnings returns the low-severity violations, the only ones a
// successful response carries through.
func (r *ValidationResult) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityLow {
			out = append(out, v)
		}
	}
	return out
}

// SecurityContext is the per-request, ephemeral view of the caller as
// exposed by the invocation host.
type SecurityContext struct {
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	RequestID    string    `json:"requestId"`
	Timestamp    time.Time `json:"timestamp"`
	RateLimitKey string    `json:"rateLimitKey"`
}

type WAFConditionType string

const (
	WAFConditionRequestRate WAFConditionType = "request_rate"
	WAFConditionFileSize    WAFConditionType = "file_size"
	WAFConditionFileType    WAFConditionType = "file_type"
	WAFConditionUserAgent   WAFConditionType = "user_agent"
	WAFConditionIPRange     WAFConditionType = "ip_range"
)

type WAFOperator string

const (
	WAFOpGreaterThan WAFOperator = "greater_than"
	WAFOpLessThan    WAFOperator = "less_than"
	WAFOpEquals      WAFOperator = "equals"
	WAFOpContains    WAFOperator = "contains"
	WAFOpMatches     WAFOperator = "matches"
)

type WAFAction string

const (
	WAFActionAllow     WAFAction = "allow"
	WAFActionBlock     WAFAction = "block"
	WAFActionChallenge WAFAction = "challenge"
)

type WAFCondition struct {
	Type     WAFConditionType `json:"type" yaml:"type"`
	Operator WAFOperator      `json:"operator" yaml:"operator"`
	Value    string           `json:"value" yaml:"value"`
}

// WAFRule is one entry of the ordered rule table. Rules are evaluated
// in ascending priority; disabled rules are skipped.
type WAFRule struct {
	ID        string       `json:"id" yaml:"id"`
	Name      string       `json:"name" yaml:"name"`
	Enabled   bool         `json:"enabled" yaml:"enabled"`
	Priority  int          `json:"priority" yaml:"priority"`
	Condition WAFCondition `json:"condition" yaml:"condition"`
	Action    WAFAction    `json:"action" yaml:"action"`
}
