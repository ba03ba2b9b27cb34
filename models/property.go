package models

import "time"

// Property is a single scraped listing assembled incrementally by the
// extractor. Every field except ID and URL is optional: a nil pointer or
// empty slice means the source page did not expose that information.
type Property struct {
	ID             string
	Type           string
	URL            string
	Price          *Price
	PricePerSqm    *float64
	AreaM2         *int
	AreaCalculated bool
	Views          *int
	LastModified   string
	ImageCount     int
	Description    string
	PrivateSeller  bool

	Location       *Location
	Floor          *FloorInfo
	Construction   *Construction
	CentralHeating *bool
	Contact        *Contact
	MonthlyPayment *MonthlyPayment
	Features       []string
	Images         []string
}

// Price is the asking price as shown on the detail page.
type Price struct {
	Value       int
	Currency    string
	IncludesVAT bool
}

// Location is the one-to-one city/district pair.
type Location struct {
	City     string
	District string
}

// FloorInfo holds the "current of total" floor position.
type FloorInfo struct {
	Current int
	Total   int
}

// Construction holds the construction type and year from the detail page.
// The AI-derived columns of construction_info are written separately by the
// enrichment runner and never by the crawler.
type Construction struct {
	Type string
	Year *int
}

// Contact holds broker contact details.
type Contact struct {
	BrokerName string
	Phone      string
}

// MonthlyPayment is the optional financing teaser ("buy for N €/month").
type MonthlyPayment struct {
	Value    int
	Currency string
}

// BuildingStatus is the parsed result of a building-completion analysis.
type BuildingStatus struct {
	HasAct16 bool
	PlanDate *time.Time
	Details  string
}

// ImageAnalysis is the parsed result of a first-image vision analysis.
type ImageAnalysis struct {
	Renovated  bool
	Furnished  bool
	Interior   bool
	Confidence string
}

// SearchMetadata aggregates list-page statistics stored per crawl run.
type SearchMetadata struct {
	AvgPricePerSqm int            `json:"avg_price_per_sqm,omitempty"`
	TotalListings  int            `json:"total_listings,omitempty"`
	SearchCriteria SearchCriteria `json:"search_criteria"`
}

// SearchCriteria mirrors the source's search summary box.
type SearchCriteria struct {
	PropertyTypes []string `json:"property_types,omitempty"`
	Location      string   `json:"location,omitempty"`
	District      string   `json:"district,omitempty"`
}
