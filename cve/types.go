package cve

import "encoding/json"

// Item is a single entry of the NVD JSON 1.1 yearly feed (CVE_Items element).
// The two CVSS metric blocks are kept as raw JSON so that a malformed block
// for one scoring system does not poison extraction from the other.
type Item struct {
	Cve              ItemCve `json:"cve"`
	Impact           Impact  `json:"impact"`
	PublishedDate    string  `json:"publishedDate"`
	LastModifiedDate string  `json:"lastModifiedDate"`
}

type ItemCve struct {
	Meta        Meta        `json:"CVE_data_meta"`
	Description Description `json:"description"`
}

type Meta struct {
	ID string `json:"ID"`
}

type Description struct {
	DescriptionData []LangString `json:"description_data"`
}

type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Impact struct {
	BaseMetricV2 json.RawMessage `json:"baseMetricV2,omitempty"`
	BaseMetricV3 json.RawMessage `json:"baseMetricV3,omitempty"`
}

type BaseMetricV2 struct {
	CvssV2   CvssV2 `json:"cvssV2"`
	Severity string `json:"severity"`
}

type CvssV2 struct {
	BaseScore float64 `json:"baseScore"`
}

type BaseMetricV3 struct {
	CvssV3 CvssV3 `json:"cvssV3"`
}

type CvssV3 struct {
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}
