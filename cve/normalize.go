package cve

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"
)

const (
	// nvdDateFormat is the fixed timestamp layout of the 1.1 feeds.
	nvdDateFormat = "2006-01-02T15:04Z"

	noDescription = "No description info"

	markerReject   = "** REJECT **"
	markerDisputed = "** DISPUTED **"
	markerReserved = "** RESERVED **"
)

// MalformedRecordError reports a feed entry whose identifier, timestamps or
// description structure cannot be extracted. The entry is unusable, but the
// failure is scoped to that single record.
type MalformedRecordError struct {
	ID  string // empty when the identifier itself is missing
	Err error
}

func (e *MalformedRecordError) Error() string {
	if e.ID == "" {
		return "malformed record: " + e.Err.Error()
	}
	return "malformed record " + e.ID + ": " + e.Err.Error()
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Normalize converts one raw feed entry into a VulnerabilityRecord.
// The raw entry is retained verbatim in RawPayload.
func Normalize(raw json.RawMessage) (VulnerabilityRecord, error) {
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return VulnerabilityRecord{}, &MalformedRecordError{Err: xerrors.Errorf("unable to decode entry: %w", err)}
	}

	id := item.Cve.Meta.ID
	if id == "" {
		return VulnerabilityRecord{}, &MalformedRecordError{Err: xerrors.New("missing CVE ID")}
	}

	publishedAt, err := time.Parse(nvdDateFormat, item.PublishedDate)
	if err != nil {
		return VulnerabilityRecord{}, &MalformedRecordError{ID: id, Err: xerrors.Errorf("invalid publishedDate: %w", err)}
	}
	lastModifiedAt, err := time.Parse(nvdDateFormat, item.LastModifiedDate)
	if err != nil {
		return VulnerabilityRecord{}, &MalformedRecordError{ID: id, Err: xerrors.Errorf("invalid lastModifiedDate: %w", err)}
	}

	// an absent description list stays nil, only CombinedDescription gets the
	// placeholder
	var descriptions []string
	if len(item.Cve.Description.DescriptionData) > 0 {
		descriptions = lo.Map(item.Cve.Description.DescriptionData, func(d LangString, _ int) string {
			return d.Value
		})
	}
	combined := noDescription
	if len(descriptions) > 0 {
		combined = strings.Join(descriptions, "|")
	}

	metrics := ResolveSeverity(item.Impact.BaseMetricV2, item.Impact.BaseMetricV3)

	return VulnerabilityRecord{
		ID:                  id,
		PublishedDate:       item.PublishedDate,
		PublishedAt:         publishedAt,
		LastModifiedDate:    item.LastModifiedDate,
		LastModifiedAt:      lastModifiedAt,
		Descriptions:        descriptions,
		CombinedDescription: combined,
		Classification:      Classify(combined),
		CVSSV2Score:         metrics.V2Score,
		CVSSV2Severity:      metrics.V2Severity,
		CVSSV3Score:         metrics.V3Score,
		CVSSV3Severity:      metrics.V3Severity,
		Impact:              metrics.Impact,
		RawPayload:          raw,
	}, nil
}

// Classify derives the lifecycle tag from the combined description.
// Later markers override earlier ones when several co-occur, matching the
// upstream feed's sequential-overwrite behavior.
func Classify(text string) Classification {
	classification := ClassificationValid
	if strings.Contains(text, markerReject) {
		classification = ClassificationReject
	}
	if strings.Contains(text, markerDisputed) {
		classification = ClassificationDisputed
	}
	if strings.Contains(text, markerReserved) {
		classification = ClassificationReserved
	}
	return classification
}

// Metrics holds the per-system CVSS values extracted from one entry plus the
// reconciled impact level.
type Metrics struct {
	V2Score    *float64
	V2Severity Severity
	V3Score    *float64
	V3Severity Severity
	Impact     Severity
}

// ResolveSeverity extracts the optional V2 and V3 metric blocks and
// reconciles them into a single impact level. Each block is decoded in its
// own failure boundary: a missing or malformed block yields "absent" for
// that system only. Impact is the present severity with the highest ordinal
// weight; on equal weight the V3 label wins. With no severity at all the
// impact is SeverityNone.
func ResolveSeverity(metricsV2, metricsV3 json.RawMessage) Metrics {
	m := Metrics{Impact: SeverityNone}

	if len(metricsV2) > 0 {
		var v2 BaseMetricV2
		if err := json.Unmarshal(metricsV2, &v2); err == nil && v2.Severity != "" {
			score := v2.CvssV2.BaseScore
			m.V2Score = &score
			m.V2Severity = Severity(v2.Severity)
		}
	}
	if len(metricsV3) > 0 {
		var v3 BaseMetricV3
		if err := json.Unmarshal(metricsV3, &v3); err == nil && v3.CvssV3.BaseSeverity != "" {
			score := v3.CvssV3.BaseScore
			m.V3Score = &score
			m.V3Severity = Severity(v3.CvssV3.BaseSeverity)
		}
	}

	if m.V2Severity != "" {
		m.Impact = m.V2Severity
	}
	if m.V3Severity != "" && m.V3Severity.Weight() >= m.Impact.Weight() {
		m.Impact = m.V3Severity
	}
	return m
}
