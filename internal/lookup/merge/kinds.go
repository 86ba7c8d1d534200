package merge

import (
	"strings"

	"osint/internal/lookup/models"
	pstrings "osint/pkg/platform/strings"
)

var phoneRules = rules[models.PhoneFields]{
	canonical: func(f models.PhoneFields) models.PhoneFields {
		f.Number = models.CanonicalPhone(f.Number)
		return f
	},
	key: phoneKey,
	fill: func(dst *models.PhoneFields, src models.PhoneFields) {
		fillString(&dst.Number, src.Number)
		fillString(&dst.Country, src.Country)
		fillString(&dst.Carrier, src.Carrier)
		fillString(&dst.LineType, src.LineType)
	},
}

var emailRules = rules[models.EmailFields]{
	canonical: func(f models.EmailFields) models.EmailFields {
		f.Address = models.CanonicalEmail(f.Address)
		if f.Domain == "" {
			if at := strings.LastIndexByte(f.Address, '@'); at >= 0 {
				f.Domain = f.Address[at+1:]
			}
		}
		f.Domain = strings.ToLower(f.Domain)
		return f
	},
	key: emailKey,
	fill: func(dst *models.EmailFields, src models.EmailFields) {
		fillString(&dst.Address, src.Address)
		fillString(&dst.Domain, src.Domain)
		fillString(&dst.Provider, src.Provider)
	},
}

var addressRules = rules[models.AddressFields]{
	key: addressKey,
	fill: func(dst *models.AddressFields, src models.AddressFields) {
		fillString(&dst.Street, src.Street)
		fillString(&dst.City, src.City)
		fillString(&dst.State, src.State)
		fillString(&dst.PostalCode, src.PostalCode)
		fillString(&dst.Country, src.Country)
	},
}

var employmentRules = rules[models.EmploymentFields]{
	key: employmentKey,
	fill: func(dst *models.EmploymentFields, src models.EmploymentFields) {
		fillString(&dst.Company, src.Company)
		fillString(&dst.Title, src.Title)
		fillString(&dst.StartDate, src.StartDate)
		fillString(&dst.EndDate, src.EndDate)
	},
}

var relativeRules = rules[models.RelativeFields]{
	key: relativeKey,
	fill: func(dst *models.RelativeFields, src models.RelativeFields) {
		fillString(&dst.Name, src.Name)
		fillString(&dst.Relationship, src.Relationship)
		if dst.Age == 0 {
			dst.Age = src.Age
		}
	},
}

var leakRules = rules[models.LeakedCredentialFields]{
	key: leakKey,
	fill: func(dst *models.LeakedCredentialFields, src models.LeakedCredentialFields) {
		fillString(&dst.Source, src.Source)
		fillString(&dst.Email, src.Email)
		fillString(&dst.Username, src.Username)
		fillString(&dst.BreachDate, src.BreachDate)
		// data classes are unioned, not first-wins
		if len(src.DataClasses) > 0 {
			dst.DataClasses = pstrings.SortedUnique(append(append([]string{}, dst.DataClasses...), src.DataClasses...))
		}
	},
}

var accountRules = rules[models.SocialAccountFields]{
	canonical: func(f models.SocialAccountFields) models.SocialAccountFields {
		f.Platform = strings.ToLower(strings.TrimSpace(f.Platform))
		return f
	},
	key: accountKey,
	fill: func(dst *models.SocialAccountFields, src models.SocialAccountFields) {
		fillString(&dst.Platform, src.Platform)
		fillString(&dst.Username, src.Username)
		fillString(&dst.URL, src.URL)
		fillString(&dst.DisplayName, src.DisplayName)
	},
}
