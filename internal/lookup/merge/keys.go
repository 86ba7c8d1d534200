package merge

import (
	"strings"

	"osint/internal/lookup/models"
)

// Dedup keys. A key built only from empty components is "" and the instance
// is discarded.

func phoneKey(f models.PhoneFields) string {
	digits := models.CanonicalPhone(f.Number)
	if len(digits) < 7 {
		return ""
	}
	return digits
}

func emailKey(f models.EmailFields) string {
	addr := models.CanonicalEmail(f.Address)
	if !strings.Contains(addr, "@") {
		return ""
	}
	return addr
}

func addressKey(f models.AddressFields) string {
	return tupleKey(f.Street, f.City, f.PostalCode)
}

func employmentKey(f models.EmploymentFields) string {
	return tupleKey(f.Company, f.Title)
}

func relativeKey(f models.RelativeFields) string {
	return fold(f.Name)
}

func leakKey(f models.LeakedCredentialFields) string {
	if fold(f.Source) == "" {
		return ""
	}
	account := f.Email
	if account == "" {
		account = f.Username
	}
	return tupleKey(f.Source, account)
}

func accountKey(f models.SocialAccountFields) string {
	if fold(f.Platform) == "" {
		return ""
	}
	handle := f.Username
	if handle == "" {
		handle = strings.TrimSuffix(f.URL, "/")
	}
	if fold(handle) == "" {
		return ""
	}
	return tupleKey(f.Platform, handle)
}

// tupleKey joins folded components positionally. Empty components stay in
// place so ("", "pittsburgh", "15213") and ("pittsburgh", "", "15213") differ.
func tupleKey(parts ...string) string {
	folded := make([]string, len(parts))
	empty := true
	for i, p := range parts {
		folded[i] = fold(p)
		if folded[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(folded, "|")
}

// fold lower-cases and collapses internal whitespace.
func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
