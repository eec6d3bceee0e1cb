package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RatingSource tells the pipeline where a listing row's rating comes from.
type RatingSource string

const (
	// RatingFromAPI asks the marketplace ratings endpoint for every EAN.
	RatingFromAPI RatingSource = "api"
	// RatingFromColumn reads an average rating already present in the export.
	RatingFromColumn RatingSource = "column"
)

// ListingColumns names the export headers used to build listing rows.
type ListingColumns struct {
	EAN      string
	SKU      string
	ID       string
	Platform string
	Rating   string
}

// ReferenceTable locates one remote lookup table.
type ReferenceTable struct {
	URL string
	// HeaderRow is the 1-based row holding column names.
	HeaderRow int
}

// TaskTarget is one project/section pair a summary task is filed under.
type TaskTarget struct {
	Label     string
	ProjectID string
	SectionID string
	TagIDs    []string
}

// Marketplace bundles everything that differs between marketplace workflows.
type Marketplace struct {
	Name    string
	Listing ListingColumns

	RatingSource RatingSource
	// Bounds for RatingFromColumn, both exclusive.
	RatingLow  float64
	RatingHigh float64
	// RatingPath is the ratings endpoint as a format string taking the EAN,
	// sent with the RatingAccept media type.
	RatingPath   string
	RatingAccept string
	// CallInterval is the minimum spacing between ratings API calls.
	CallInterval time.Duration
	// MaxReauth bounds token refreshes per identifier on 401.
	MaxReauth int

	Description ReferenceTable
	Substitute  ReferenceTable
	// SubstituteFirstCol and SubstituteLastCol are the 0-based inclusive column window.
	SubstituteFirstCol int
	SubstituteLastCol  int

	BarcodeHeaderRow int

	TaskName       string
	TaskNotes      string
	AttachmentName string
	OutputName     string
	Targets        []TaskTarget
}

const (
	descriptionURL = "https://docs.google.com/spreadsheets/d/e/2PACX-1vS_mN7-KwnH2aN-afhBMbM_1IlBylxwgJByEkQU5M3HJQuSDx8-pk3HwaJ5TOLgNeD0SGcdgHikloFK/pub?gid=788370787&single=true&output=csv"
	substituteURL  = "https://docs.google.com/spreadsheets/d/e/2PACX-1vRxBqpSTMwezeOji3KXDlrp3855sQHFuYxmKsCIDwILg4iHMEx2BBmp87nwEgI__4g3rM6H65rIp0sF/pub?gid=0&single=true&output=csv"

	taskNotes = "<body><b>File attached in this task </b> \n\n<b>PLEASE TICK EACH ITEM ON YOUR CHECKLIST AS YOU GO</b></body>"
)

var marketplaces = map[string]Marketplace{
	"bol": {
		Name: "bol",
		Listing: ListingColumns{
			EAN: "EAN",
			SKU: "sku",
			ID:  "id",
		},
		RatingSource:       RatingFromAPI,
		RatingPath:         "/retailer/products/%s/ratings",
		RatingAccept:       "application/vnd.retailer.v9+json",
		CallInterval:       1200 * time.Millisecond,
		MaxReauth:          1,
		Description:        ReferenceTable{URL: descriptionURL, HeaderRow: 3},
		Substitute:         ReferenceTable{URL: substituteURL, HeaderRow: 1},
		SubstituteFirstCol: 1,
		SubstituteLastCol:  15,
		BarcodeHeaderRow:   4,
		TaskName:           "BOL F1s to be completed",
		TaskNotes:          taskNotes,
		AttachmentName:     "bol_F1_sku_details.xlsx",
		OutputName:         "F1_Barcodes.xlsx",
	},
	"manomano": {
		Name: "manomano",
		Listing: ListingColumns{
			EAN:      "EAN",
			SKU:      "SKU",
			Platform: "PLATFORM",
			Rating:   "PRODUCT_RATING",
		},
		RatingSource:       RatingFromColumn,
		RatingLow:          0.1,
		RatingHigh:         3.5,
		Description:        ReferenceTable{URL: descriptionURL, HeaderRow: 3},
		Substitute:         ReferenceTable{URL: substituteURL, HeaderRow: 1},
		SubstituteFirstCol: 1,
		SubstituteLastCol:  15,
		BarcodeHeaderRow:   4,
		TaskName:           "ManoMano F1s to be completed",
		TaskNotes:          taskNotes,
		AttachmentName:     "manomano_F1_sku_details.xlsx",
		OutputName:         "F1_Barcodes.xlsx",
		Targets: []TaskTarget{
			{Label: "UK", ProjectID: "1205420991974313", SectionID: "1210132854403371", TagIDs: []string{"1203197857163437"}},
			{Label: "ES", ProjectID: "1205436216136678", SectionID: "1210125800761924", TagIDs: []string{"1203197857163437"}},
			{Label: "IT", ProjectID: "1205436216136683", SectionID: "1210133451103514", TagIDs: []string{"1203197857163437"}},
			{Label: "FR", ProjectID: "1205436216136660", SectionID: "1210133451103517", TagIDs: []string{"1203197857163437"}},
			{Label: "DE", ProjectID: "1205436216136667", SectionID: "1210133451103520", TagIDs: []string{"1203197857163437"}},
		},
	},
}

// LookupMarketplace returns a copy of the named profile.
func LookupMarketplace(name string) (Marketplace, error) {
	m, ok := marketplaces[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Marketplace{}, fmt.Errorf("unknown marketplace %q (known: %s)", name, strings.Join(MarketplaceNames(), ", "))
	}
	m.Targets = append([]TaskTarget(nil), m.Targets...)
	return m, nil
}

// MarketplaceNames lists the configured profiles in alphabetical order.
func MarketplaceNames() []string {
	names := make([]string, 0, len(marketplaces))
	for name := range marketplaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
