package domain

import dErrors "custodia/pkg/domain-errors"

// Classification is the sensitivity tier attached to every encrypted field,
// file, and audit event. It determines which key purpose protects the value
// and which retention rule applies. Once assigned to a record instance it is
// immutable; reclassifying means re-encrypting under the new tier.
type Classification string

const (
	ClassificationPublic    Classification = "public"
	ClassificationSensitive Classification = "sensitive"
	// ClassificationCJI covers criminal justice information, the most
	// restricted tier.
	ClassificationCJI Classification = "cji"
)

// ParseClassification validates a raw tier value.
func ParseClassification(raw string) (Classification, error) {
	switch Classification(raw) {
	case ClassificationPublic, ClassificationSensitive, ClassificationCJI:
		return Classification(raw), nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "classification cannot be empty")
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown classification %q", raw)
	}
}

// RetentionDays returns the audit retention rule for events carrying this
// tier. CJI records keep the longest trail.
func (c Classification) RetentionDays() int {
	switch c {
	case ClassificationCJI:
		return 2555 // 7 years
	case ClassificationSensitive:
		return 1095 // 3 years
	default:
		return 365
	}
}
