package merge

import (
	"strings"

	"osint/internal/lookup/models"
)

// instance is one source's raw view of a sub-entity before merging.
type instance[F any] struct {
	source     string
	confidence float64
	fields     F
}

type identityCandidate struct {
	source     string
	confidence float64
	name       string
	names      []string
	age        int
	gender     string
	birthdate  string
}

// filled counts non-empty identity fields.
func (c identityCandidate) filled() int {
	n := 0
	if c.name != "" {
		n++
	}
	if c.age > 0 {
		n++
	}
	if c.gender != "" {
		n++
	}
	if c.birthdate != "" {
		n++
	}
	return n
}

// extraction collects everything one source contributed.
type extraction struct {
	source     string
	confidence float64

	identities []identityCandidate
	phones     []instance[models.PhoneFields]
	emails     []instance[models.EmailFields]
	addresses  []instance[models.AddressFields]
	employment []instance[models.EmploymentFields]
	relatives  []instance[models.RelativeFields]
	leaks      []instance[models.LeakedCredentialFields]
	accounts   []instance[models.SocialAccountFields]
}

// itemConfidence prefers a per-item confidence over the source-level one.
func (x *extraction) itemConfidence(item obj) float64 {
	if c, ok := item.num("confidence", "confidence_score", "score"); ok {
		return normalizeConfidence(c)
	}
	return x.confidence
}

func (x *extraction) addIdentity(c identityCandidate) {
	if c.filled() == 0 && len(c.names) == 0 {
		return
	}
	c.source = x.source
	if c.confidence == 0 {
		c.confidence = x.confidence
	}
	x.identities = append(x.identities, c)
}

func (x *extraction) addPhone(conf float64, f models.PhoneFields) {
	x.phones = append(x.phones, instance[models.PhoneFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addEmail(conf float64, f models.EmailFields) {
	x.emails = append(x.emails, instance[models.EmailFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addAddress(conf float64, f models.AddressFields) {
	x.addresses = append(x.addresses, instance[models.AddressFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addEmployment(conf float64, f models.EmploymentFields) {
	x.employment = append(x.employment, instance[models.EmploymentFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addRelative(conf float64, f models.RelativeFields) {
	x.relatives = append(x.relatives, instance[models.RelativeFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addLeak(conf float64, f models.LeakedCredentialFields) {
	x.leaks = append(x.leaks, instance[models.LeakedCredentialFields]{source: x.source, confidence: conf, fields: f})
}

func (x *extraction) addAccount(conf float64, f models.SocialAccountFields) {
	x.accounts = append(x.accounts, instance[models.SocialAccountFields]{source: x.source, confidence: conf, fields: f})
}

// mapGeneric reads the common payload vocabulary. Unknown fields are dropped.
func mapGeneric(x *extraction, p obj) {
	if c, ok := p.num("confidence", "confidence_score"); ok {
		x.confidence = normalizeConfidence(c)
	}

	x.addIdentity(identityCandidate{
		name:      p.str("name", "full_name", "primary_name"),
		names:     p.strs("name_variants", "names", "aliases"),
		age:       p.integer("age"),
		gender:    p.str("gender"),
		birthdate: p.str("birthdate", "dob", "date_of_birth"),
	})

	if phone := p.str("phone", "phone_number", "number"); phone != "" {
		x.addPhone(x.confidence, models.PhoneFields{
			Number:   phone,
			Carrier:  p.str("carrier"),
			LineType: p.str("line_type"),
			Country:  p.str("country", "country_code"),
		})
	}
	for _, phone := range p.strs("phones") {
		x.addPhone(x.confidence, models.PhoneFields{Number: phone})
	}
	for _, item := range p.objects("phones") {
		x.addPhone(x.itemConfidence(item), models.PhoneFields{
			Number:   item.str("number_e164", "number", "phone", "e164"),
			Carrier:  item.str("carrier"),
			LineType: item.str("line_type", "type"),
			Country:  item.str("country", "country_code"),
		})
	}

	if email := p.str("email", "email_address"); email != "" {
		x.addEmail(x.confidence, models.EmailFields{Address: email})
	}
	for _, email := range p.strs("emails") {
		x.addEmail(x.confidence, models.EmailFields{Address: email})
	}
	for _, item := range p.objects("emails") {
		x.addEmail(x.itemConfidence(item), models.EmailFields{
			Address: item.str("normalized", "address", "email"),
			Domain:  item.str("domain"),
		})
	}

	for _, item := range p.objects("addresses", "address") {
		x.addAddress(x.itemConfidence(item), models.AddressFields{
			Street:     item.str("street", "address", "line1"),
			City:       item.str("city"),
			State:      item.str("state", "region"),
			PostalCode: item.str("postal_code", "zip", "zip_code", "zipCode"),
			Country:    item.str("country", "country_code", "countryCode"),
		})
	}

	for _, item := range p.objects("employment", "jobs") {
		x.addEmployment(x.itemConfidence(item), models.EmploymentFields{
			Company:   item.str("company", "employer", "organization"),
			Title:     item.str("title", "position", "job_title"),
			StartDate: item.str("start_date"),
			EndDate:   item.str("end_date"),
		})
	}

	for _, name := range p.strs("relatives") {
		x.addRelative(x.confidence, models.RelativeFields{Name: name})
	}
	for _, item := range p.objects("relatives") {
		x.addRelative(x.itemConfidence(item), models.RelativeFields{
			Name:         item.str("name"),
			Relationship: item.str("relationship", "relation"),
			Age:          item.integer("age"),
		})
	}

	for _, item := range p.objects("breaches", "leaks", "leaked_credentials") {
		x.addLeak(x.itemConfidence(item), models.LeakedCredentialFields{
			Source:      item.str("source", "name", "database_name", "Name"),
			Email:       item.str("email"),
			Username:    item.str("username"),
			BreachDate:  item.str("breach_date", "BreachDate", "date"),
			DataClasses: item.strs("data_classes", "DataClasses"),
		})
	}

	for _, item := range p.objects("accounts", "social_profiles", "account_registrations", "profiles") {
		x.addAccount(x.itemConfidence(item), models.SocialAccountFields{
			Platform:    strings.ToLower(item.str("platform", "service", "module", "site")),
			Username:    item.str("username", "handle"),
			URL:         item.str("url", "profile_url"),
			DisplayName: item.str("display_name", "name"),
		})
	}
}
