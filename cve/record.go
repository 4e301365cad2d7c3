package cve

import (
	"encoding/json"
	"time"
)

// Classification is the lifecycle tag derived from description markers.
type Classification string

const (
	ClassificationValid    Classification = "VALID"
	ClassificationReject   Classification = "REJECT"
	ClassificationDisputed Classification = "DISPUTED"
	ClassificationReserved Classification = "RESERVED"
)

// Severity is a CVSS severity label. SeverityNone means no scoring system
// reported a severity for the record.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityWeight orders severities for impact reconciliation.
var severityWeight = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Weight returns the ordinal weight of a severity label, 0 for unknown labels.
func (s Severity) Weight() int {
	return severityWeight[s]
}

// VulnerabilityRecord is one normalized NVD entry. Optional CVSS scores are
// pointers, optional severities use the empty string for absence. RawPayload
// holds the unmodified feed entry for later re-inspection.
type VulnerabilityRecord struct {
	ID                  string
	PublishedDate       string
	PublishedAt         time.Time
	LastModifiedDate    string
	LastModifiedAt      time.Time
	Descriptions        []string
	CombinedDescription string
	Classification      Classification
	CVSSV2Score         *float64
	CVSSV2Severity      Severity
	CVSSV3Score         *float64
	CVSSV3Severity      Severity
	Impact              Severity
	RawPayload          json.RawMessage
}
