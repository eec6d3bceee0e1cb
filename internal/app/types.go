package app

import (
	"time"

	"listing_f1s/internal/config"
)

// Config is everything a run needs, resolved from the environment.
type Config struct {
	Market config.Marketplace

	// Ratings API, only for marketplaces that rate via API.
	BaseURL         string
	ClientID        string
	ClientSecret    string
	TokenURL        string
	RatingInterval  time.Duration
	RatingMaxReauth int

	ListingURI string
	BarcodeURI string
	OutputURI  string

	// Reference tables come from the published CSVs unless a spreadsheet id
	// is set, in which case the Sheets API ranges are read instead.
	DescriptionURL         string
	SubstituteURL          string
	ReferenceSpreadsheetID string
	DescriptionRange       string
	SubstituteRange        string
	CredentialsFile        string

	TasksToken   string
	TasksBaseURL string
	CreateTasks  bool
	DedupeTasks  bool

	NewCodesSpreadsheetID string
	NewCodesRange         string

	NtfyEnabled bool
	NtfyURL     string
	NtfyTopic   string

	Resilience config.ResilienceConfig
}

// UsesSheetsAPI reports whether any component needs a Google Sheets client.
func (c Config) UsesSheetsAPI() bool {
	return c.ReferenceSpreadsheetID != "" || c.NewCodesSpreadsheetID != ""
}
