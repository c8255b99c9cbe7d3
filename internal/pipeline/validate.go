package pipeline

import "strings"

// Validation scoring constants. The thresholds for accepting or
// regenerating a draft live in PipelineConfig; these are the fixed
// penalty weights.
const (
	minReplyLength = 10
	maxReplyLength = 10000

	penaltyEmpty      = 1.0
	penaltyTooShort   = 0.6
	penaltyTooLong    = 0.2
	penaltyNoSentence = 0.2
)

// ValidationResult is the outcome of scoring a generated reply.
type ValidationResult struct {
	IsValid bool
	Score   float64
	Issues  []string
}

// ValidateReply scores a generated reply with deterministic heuristics.
// The base score is 1.0; each detected issue subtracts a fixed penalty.
// validThreshold is the minimum score for IsValid.
func ValidateReply(content string, validThreshold float64) ValidationResult {
	score := 1.0
	var issues []string

	trimmed := strings.TrimSpace(content)

	if trimmed == "" {
		score -= penaltyEmpty
		issues = append(issues, "empty content")
	} else {
		if len(trimmed) < minReplyLength {
			score -= penaltyTooShort
			issues = append(issues, "content too short")
		}
		if len(trimmed) > maxReplyLength {
			score -= penaltyTooLong
			issues = append(issues, "content too long")
		}
		if countSentences(trimmed) < 1 {
			score -= penaltyNoSentence
			issues = append(issues, "no complete sentence")
		}
	}

	if score < 0 {
		score = 0
	}

	return ValidationResult{
		IsValid: score >= validThreshold,
		Score:   score,
		Issues:  issues,
	}
}

// countSentences counts sentence terminators as a cheap proxy for
// sentence count.
func countSentences(s string) int {
	count := 0
	for _, r := range s {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}
