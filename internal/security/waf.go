package security

import (
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"previewd/internal/models"
)

// WAFInput is the request snapshot the rule table evaluates against.
type WAFInput struct {
	RequestRate int
	FileSize    int64
	FileType    string
	UserAgent   string
	IPAddress   string
}

// RuleMatch records a rule whose condition held.
type RuleMatch struct {
	Rule models.WAFRule
}

// WAFEngine evaluates an ordered rule table. Rules run in ascending
// priority; a matching allow rule short-circuits the remainder.
type WAFEngine struct {
	rules []models.WAFRule
}

func NewWAFEngine(rules []models.WAFRule) *WAFEngine {
	ordered := make([]models.WAFRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	return &WAFEngine{rules: ordered}
}

// Evaluate returns the block/challenge matches for the input. An
// explicit allow match stops evaluation with no matches reported.
// When kinds is non-empty only rules with those condition kinds are
// considered; the validator uses this to evaluate request-phase and
// content-phase rules separately.
func (e *WAFEngine) Evaluate(in WAFInput, kinds ...models.WAFConditionType) []RuleMatch {
	var matches []RuleMatch
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if len(kinds) > 0 && !kindIn(rule.Condition.Type, kinds) {
			continue
		}
		if !conditionHolds(rule.Condition, in) {
			continue
		}
		if rule.Action == models.WAFActionAllow {
			return nil
		}
		matches = append(matches, RuleMatch{Rule: rule})
	}
	return matches
}

func kindIn(k models.WAFConditionType, kinds []models.WAFConditionType) bool {
	for _, kind := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// conditionHolds dispatches on the condition kind. One evaluator per
// kind rather than reflection over the value.
func conditionHolds(c models.WAFCondition, in WAFInput) bool {
	switch c.Type {
	case models.WAFConditionRequestRate:
		return compareNumeric(int64(in.RequestRate), c.Operator, c.Value)
	case models.WAFConditionFileSize:
		return compareNumeric(in.FileSize, c.Operator, c.Value)
	case models.WAFConditionFileType:
		return compareString(in.FileType, c.Operator, c.Value)
	case models.WAFConditionUserAgent:
		return compareString(in.UserAgent, c.Operator, c.Value)
	case models.WAFConditionIPRange:
		return matchIPRange(in.IPAddress, c.Operator, c.Value)
	default:
		return false
	}
}

func compareNumeric(actual int64, op models.WAFOperator, value string) bool {
	threshold, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false
	}
	switch op {
	case models.WAFOpGreaterThan:
		return actual > threshold
	case models.WAFOpLessThan:
		return actual < threshold
	case models.WAFOpEquals:
		return actual == threshold
	default:
		return false
	}
}

func compareString(actual string, op models.WAFOperator, value string) bool {
	switch op {
	case models.WAFOpEquals:
		return strings.EqualFold(actual, value)
	case models.WAFOpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	case models.WAFOpMatches:
		re, err := regexp.Compile(value)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// matchIPRange treats the value as a CIDR for contains, and as a
// literal address for equals.
func matchIPRange(ipStr string, op models.WAFOperator, value string) bool {
	switch op {
	case models.WAFOpEquals:
		return ipStr == value
	case models.WAFOpContains, models.WAFOpMatches:
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return false
		}
		_, cidr, err := net.ParseCIDR(value)
		if err != nil {
			return false
		}
		return cidr.Contains(ip)
	default:
		return false
	}
}
