package models

// RecordKind names a canonical sub-entity type.
type RecordKind string

const (
	KindPhone            RecordKind = "phone"
	KindEmail            RecordKind = "email"
	KindAddress          RecordKind = "address"
	KindEmployment       RecordKind = "employment"
	KindRelative         RecordKind = "relative"
	KindLeakedCredential RecordKind = "leaked_credential"
	KindSocialAccount    RecordKind = "social_account"
)

// CanonicalRecord is one merged sub-entity. Within a profile no two records of
// the same kind share a DedupKey. Sources is sorted.
type CanonicalRecord[F any] struct {
	DedupKey   string   `json:"dedup_key"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Fields     F        `json:"fields"`
}

// RecordList holds the top records of a kind. Total counts every merged record
// before the cap was applied.
type RecordList[F any] struct {
	Items []CanonicalRecord[F] `json:"items"`
	Total int                  `json:"total"`
}

func (l RecordList[F]) Len() int { return len(l.Items) }

type PhoneFields struct {
	Number   string `json:"number"`
	Country  string `json:"country,omitempty"`
	Carrier  string `json:"carrier,omitempty"`
	LineType string `json:"line_type,omitempty"`
}

type EmailFields struct {
	Address  string `json:"address"`
	Domain   string `json:"domain,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type AddressFields struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type EmploymentFields struct {
	Company   string `json:"company,omitempty"`
	Title     string `json:"title,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type RelativeFields struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	Age          int    `json:"age,omitempty"`
}

type LeakedCredentialFields struct {
	Source      string   `json:"source"`
	Email       string   `json:"email,omitempty"`
	Username    string   `json:"username,omitempty"`
	BreachDate  string   `json:"breach_date,omitempty"`
	DataClasses []string `json:"data_classes,omitempty"`
}

type SocialAccountFields struct {
	Platform    string `json:"platform"`
	Username    string `json:"username,omitempty"`
	URL         string `json:"url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}
