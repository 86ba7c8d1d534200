package models

import "time"

// Identity is taken from a single source: the highest-confidence, most complete one.
type Identity struct {
	PrimaryName  string   `json:"primary_name,omitempty"`
	NameVariants []string `json:"name_variants,omitempty"`
	Age          int      `json:"age,omitempty"`
	Gender       string   `json:"gender,omitempty"`
	Birthdate    string   `json:"birthdate,omitempty"`
	Source       string   `json:"source,omitempty"`
	Confidence   float64  `json:"confidence"`
}

type Quality struct {
	// Completeness is the percentage of tracked categories with data, 0-100.
	Completeness         float64  `json:"completeness"`
	OverallConfidence    float64  `json:"overall_confidence"`
	SourceCount          int      `json:"source_count"`
	SucceededSources     []string `json:"succeeded_sources"`
	FailedSources        []string `json:"failed_sources"`
	ProviderFailureCount int      `json:"provider_failure_count"`
	NoSourcesSucceeded   bool     `json:"no_sources_succeeded"`
}

// ConsolidatedProfile is the merged view of one query. Treat it as read-only
// once returned by the merger.
type ConsolidatedProfile struct {
	Query             Query                              `json:"query"`
	Identity          Identity                           `json:"identity"`
	Phones            RecordList[PhoneFields]            `json:"phones"`
	Emails            RecordList[EmailFields]            `json:"emails"`
	Addresses         RecordList[AddressFields]          `json:"addresses"`
	Employment        RecordList[EmploymentFields]       `json:"employment"`
	Relatives         RecordList[RelativeFields]         `json:"relatives"`
	LeakedCredentials RecordList[LeakedCredentialFields] `json:"leaked_credentials"`
	SocialAccounts    RecordList[SocialAccountFields]    `json:"social_accounts"`
	Quality           Quality                            `json:"quality"`
	GeneratedAt       time.Time                          `json:"generated_at"`
}

// Cacheable reports whether p may be stored. Profiles without a single
// successful source are served but never cached.
func (p *ConsolidatedProfile) Cacheable() bool {
	return p != nil && !p.Quality.NoSourcesSucceeded
}

// CacheEntry is a stored serialized profile.
type CacheEntry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
