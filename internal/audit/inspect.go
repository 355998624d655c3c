package audit

import (
	"net/url"
	"regexp"

	"github.com/org/dashboard/pkg/models"
)

var (
	xssPattern = regexp.MustCompile(`(?i)<\s*script|<\s*iframe|<\s*svg|<\s*img[^>]*\son\w+\s*=|javascript\s*:|\bon(error|load|click|mouseover|focus)\s*=`)
	sqlPattern = regexp.MustCompile(`(?i)'\s*(or|and)\s+['"\d]|\bunion(\s+all)?\s+select\b|;\s*(drop|delete|truncate|alter|insert|update)\s|'\s*--|\bor\s+1\s*=\s*1\b`)
)

// InspectQuery looks for SQL injection and XSS payloads in a raw query
// string. It returns the audit action to record and whether anything
// matched. Decoding failures fall back to inspecting the raw text.
func InspectQuery(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	s, err := url.QueryUnescape(raw)
	if err != nil {
		s = raw
	}
	switch {
	case xssPattern.MatchString(s):
		return models.ActionXSS, true
	case sqlPattern.MatchString(s):
		return models.ActionSQLInjection, true
	}
	return "", false
}
