package merge

import (
	"strings"

	"osint/internal/lookup/models"
)

// mapper turns one decoded payload into raw instances on x.
type mapper func(x *extraction, p obj)

// Source confidence used when a payload does not state its own.
var defaultSourceConfidence = map[string]float64{
	"investigate":      0.85,
	"truecaller":       0.8,
	"osint_industries": 0.75,
	"caller_id":        0.7,
	"data_breach":      0.7,
	"ipqualityscore":   0.6,
}

const fallbackConfidence = 0.5

func defaultMappers() map[string]mapper {
	return map[string]mapper{
		"investigate":      mapInvestigate,
		"truecaller":       mapTruecaller,
		"caller_id":        mapCallerID,
		"ipqualityscore":   mapIPQualityScore,
		"data_breach":      mapDataBreach,
		"osint_industries": mapOSINTIndustries,
	}
}

// mapInvestigate reads the person_profile document.
func mapInvestigate(x *extraction, p obj) {
	profile := p.object("person_profile")
	if profile == nil {
		mapGeneric(x, p)
		return
	}
	if c, ok := profile.num("confidence_score"); ok {
		x.confidence = normalizeConfidence(c)
	}
	mapGeneric(x, profile)
}

// mapTruecaller reads {"data": [{name, gender, phones, addresses, internetAddresses}]}.
func mapTruecaller(x *extraction, p obj) {
	for _, rec := range p.objects("data") {
		x.addIdentity(identityCandidate{
			name:   rec.str("name"),
			names:  rec.strs("altName"),
			gender: strings.ToLower(rec.str("gender")),
		})
		for _, ph := range rec.objects("phones") {
			x.addPhone(x.confidence, models.PhoneFields{
				Number:   ph.str("e164Format", "nationalFormat"),
				Carrier:  ph.str("carrier"),
				LineType: strings.ToLower(ph.str("numberType")),
				Country:  ph.str("countryCode"),
			})
		}
		for _, addr := range rec.objects("addresses") {
			x.addAddress(x.confidence, models.AddressFields{
				Street:     addr.str("street", "address"),
				City:       addr.str("city"),
				PostalCode: addr.str("zipCode"),
				Country:    addr.str("countryCode"),
			})
		}
		for _, ia := range rec.objects("internetAddresses") {
			if strings.EqualFold(ia.str("service"), "email") {
				x.addEmail(x.confidence, models.EmailFields{Address: ia.str("id")})
			}
		}
	}
}

// mapCallerID reads {"data": {name, fb: {profile_url, fb}}}.
func mapCallerID(x *extraction, p obj) {
	info := p.object("data")
	if info == nil {
		info = p
	}
	name := info.str("name")
	x.addIdentity(identityCandidate{name: name})
	if phone := info.str("phone", "number"); phone != "" {
		x.addPhone(x.confidence, models.PhoneFields{
			Number:   phone,
			Carrier:  info.str("carrier"),
			LineType: info.str("line_type"),
		})
	}
	if fb := info.object("fb"); fb != nil {
		x.addAccount(x.confidence, models.SocialAccountFields{
			Platform:    "facebook",
			Username:    fb.str("fb", "id"),
			URL:         fb.str("profile_url"),
			DisplayName: name,
		})
	}
}

// mapIPQualityScore reads phone or email validation results. Confidence is
// derived from the fraud score when present.
func mapIPQualityScore(x *extraction, p obj) {
	if fraud, ok := p.num("fraud_score"); ok {
		x.confidence = normalizeConfidence(1 - fraud/100)
	}
	if valid, ok := p["valid"].(bool); ok && !valid {
		x.confidence /= 2
	}

	name := p.str("name")
	if name == "" {
		name = strings.TrimSpace(p.str("first_name") + " " + p.str("last_name"))
	}
	x.addIdentity(identityCandidate{name: name})

	if phone := p.str("formatted", "phone_number"); phone != "" {
		x.addPhone(x.confidence, models.PhoneFields{
			Number:   phone,
			Carrier:  p.str("carrier"),
			LineType: strings.ToLower(p.str("line_type")),
			Country:  p.str("country"),
		})
		if p.str("city") != "" || p.str("zip_code") != "" {
			x.addAddress(x.confidence, models.AddressFields{
				City:       p.str("city"),
				State:      p.str("region"),
				PostalCode: p.str("zip_code"),
				Country:    p.str("country"),
			})
		}
	}
	if email := p.str("sanitized_email", "email"); email != "" {
		x.addEmail(x.confidence, models.EmailFields{Address: email})
	}
}

// mapDataBreach reads {"result": {"entries": [{"entry": {...}}]}}.
func mapDataBreach(x *extraction, p obj) {
	result := p.object("result")
	if result == nil {
		mapGeneric(x, p)
		return
	}
	for _, item := range result.objects("entries") {
		entry := item.object("entry")
		if entry == nil {
			entry = item
		}
		source := entry.str("database_name", "obtained_from")
		leak := models.LeakedCredentialFields{
			Source:   source,
			Email:    entry.str("email"),
			Username: entry.str("username"),
		}
		if meta := entry.object("source"); meta != nil {
			leak.BreachDate = meta.str("BreachDate")
			leak.DataClasses = meta.strs("DataClasses")
		}
		x.addLeak(x.confidence, leak)

		x.addIdentity(identityCandidate{
			name:      entry.str("name"),
			birthdate: entry.str("dob"),
			// breach rows are weak identity evidence
			confidence: x.confidence / 2,
		})
		if phone := entry.str("phone"); phone != "" {
			x.addPhone(x.confidence/2, models.PhoneFields{Number: phone})
		}
		if email := entry.str("email"); email != "" {
			x.addEmail(x.confidence, models.EmailFields{Address: email})
		}
		for _, addr := range entry.strs("address") {
			x.addAddress(x.confidence/2, models.AddressFields{Street: addr})
		}
	}
}

// mapOSINTIndustries reads {"results": [{"module": "...", "spec_format": [{...}]}]}.
// Field values may be wrapped as {"value": ...}.
func mapOSINTIndustries(x *extraction, p obj) {
	for _, mod := range p.objects("results", "data") {
		platform := strings.ToLower(mod.str("module"))
		for _, entry := range mod.objects("spec_format") {
			x.addAccount(x.confidence, models.SocialAccountFields{
				Platform:    platform,
				Username:    entry.str("username"),
				URL:         entry.str("profile_url"),
				DisplayName: entry.str("name"),
			})
			if name := entry.str("name"); name != "" {
				x.addIdentity(identityCandidate{name: name, gender: strings.ToLower(entry.str("gender"))})
			}
		}
	}
}
