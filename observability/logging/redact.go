package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// plainKeys are attributes the daemon logs verbatim.
var plainKeys = map[string]struct{}{
	"market":   {},
	"borrower": {},
	"asset":    {},
	"code":     {},
	"method":   {},
	"path":     {},
	"status":   {},
	"height":   {},
}

// MaskField returns an attribute safe to log. Known plain keys pass through,
// "dsn" keeps its host and database but loses credentials, and everything
// else is replaced by RedactedValue.
func MaskField(key, value string) slog.Attr {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[normalized]; ok {
		return slog.String(key, value)
	}
	if normalized == "dsn" {
		return slog.String(key, MaskDSN(value))
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN strips the password from a database connection string. URL DSNs
// (postgres://user:pw@host/db) and keyword DSNs (host=db password=pw) are
// understood; sqlite file DSNs carry no credentials and are returned as is.
func MaskDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return RedactedValue
		}
		return u.Redacted()
	}
	if !strings.Contains(dsn, "=") || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		k, _, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}
