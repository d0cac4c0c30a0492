// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"regexp"
	"strings"
)

// URLInfo is the outcome of connection URL validation.
type URLInfo struct {
	Valid         bool
	AdapterType   string
	NormalizedURL string
	ErrorMessage  string
}

// serverURLPattern matches protocol://[user[:password]@][host][:port][/dbname][?params]
var serverURLPattern = regexp.MustCompile(
	`^([A-Za-z][A-Za-z0-9+.-]*)://` + // protocol
		`(?:([^:@/?]+)(?::([^@/?]*))?@)?` + // user:password@
		`([^:/@?]*)` + // host
		`(?::(\d+))?` + // :port
		`(?:/([^?]*))?` + // /dbname
		`(?:\?(.*))?$`) // ?params

func invalidURL(message string) URLInfo {
	return URLInfo{Valid: false, ErrorMessage: message}
}

// Protocol extracts the lowercased protocol tag from a connection URL.
func Protocol(rawurl string) (string, bool) {
	idx := strings.Index(rawurl, "://")
	if idx <= 0 {
		return "", false
	}
	return strings.ToLower(rawurl[:idx]), true
}

// ValidateURL checks a connection URL against the per-backend grammar.
// Only sqlite, postgres(ql) and mysql have a full grammar; every other
// protocol is reported as unsupported.
func ValidateURL(rawurl string) URLInfo {
	if rawurl == "" {
		return invalidURL("connection URL is empty")
	}
	proto, ok := Protocol(rawurl)
	if !ok {
		return invalidURL("connection URL must contain '://'")
	}

	switch proto {
	case "sqlite":
		return validateSQLiteURL(rawurl)
	case "postgres", "postgresql":
		return validateServerURL(rawurl, "postgres")
	case "mysql":
		return validateServerURL(rawurl, "mysql")
	default:
		return invalidURL("unsupported protocol: " + proto)
	}
}

func validateSQLiteURL(rawurl string) URLInfo {
	path := rawurl[strings.Index(rawurl, "://")+3:]
	if path == "" {
		return invalidURL("sqlite URL is missing a database path")
	}
	if path != ":memory:" && strings.ContainsRune(path, 0) {
		return invalidURL("sqlite path contains a NUL byte")
	}
	return URLInfo{Valid: true, AdapterType: "sqlite", NormalizedURL: "sqlite://" + path}
}

func validateServerURL(rawurl, adapterType string) URLInfo {
	m := serverURLPattern.FindStringSubmatch(rawurl)
	if m == nil {
		return invalidURL("malformed " + adapterType + " URL")
	}
	rest := rawurl[strings.Index(rawurl, "://"):]
	return URLInfo{
		Valid:         true,
		AdapterType:   adapterType,
		NormalizedURL: adapterType + rest,
	}
}
