package models

import "time"

type DealQuality string

const (
	QualityExcellent DealQuality = "excellent"
	QualityGood      DealQuality = "good"
	QualityFair      DealQuality = "fair"
	QualityPoor      DealQuality = "poor"
	QualityUnknown   DealQuality = "unknown"
)

// Listing is a parsed marketplace post together with its appraisal.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Price       float64   `json:"price"`
	Location    string    `json:"location,omitempty"`
	Seller      string    `json:"seller,omitempty"`
	Site        string    `json:"site,omitempty"`
	CPUModel    string    `json:"cpu_model,omitempty"`
	GPUModel    string    `json:"gpu_model,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`

	FairValue       float64     `json:"fair_value,omitempty"`
	ROI             float64     `json:"roi"`
	DealQuality     DealQuality `json:"deal_quality,omitempty"`
	Urgent          bool        `json:"urgent,omitempty"`
	Bundle          bool        `json:"bundle,omitempty"`
	LegitimacyScore *int        `json:"legitimacy_score,omitempty"`
}

func (l Listing) Clone() Listing {
	c := l
	c.Keywords = append([]string(nil), l.Keywords...)
	if l.LegitimacyScore != nil {
		n := *l.LegitimacyScore
		c.LegitimacyScore = &n
	}
	return c
}

// IsGoodDeal reports whether the appraisal rates the listing good or better.
func (l Listing) IsGoodDeal() bool {
	return l.DealQuality == QualityExcellent || l.DealQuality == QualityGood
}
