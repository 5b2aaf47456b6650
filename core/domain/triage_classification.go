package domain

import "strings"

// Classification is the coarse intent assigned to an inbound message.
type Classification string

const (
	ClassificationSpam    Classification = "SPAM"
	ClassificationProcess Classification = "PROCESS"
	ClassificationUnknown Classification = "UNKNOWN"
)

// ParseClassification matches the model's label case-insensitively.
// Anything that is not exactly SPAM or PROCESS is coerced to PROCESS.
func ParseClassification(text string) Classification {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case string(ClassificationSpam):
		return ClassificationSpam
	default:
		return ClassificationProcess
	}
}
