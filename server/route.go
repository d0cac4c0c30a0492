// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"strconv"
	"strings"
)

// reservedTenants are names the route parser always rejects.
var reservedTenants = map[string]bool{
	"invalid":  true,
	"_invalid": true,
}

// Route is a parsed entity path. Valid is false when the path is malformed;
// Message then carries a diagnostic.
type Route struct {
	Valid   bool
	Message string

	Tenant    string
	Package   string
	Entity    string
	ID        string
	Action    string
	ExtraArgs []string
}

// ParseRoute splits a request path into tenant, package, entity, optional
// id and action, and trailing extra arguments. It never fails hard; a
// malformed path yields Valid=false with a diagnostic message.
func ParseRoute(path string) Route {
	var segments []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	if len(segments) < 3 {
		return Route{Message: "path must contain tenant, package and entity"}
	}

	route := Route{
		Tenant:  segments[0],
		Package: segments[1],
		Entity:  segments[2],
	}
	for _, part := range []string{route.Tenant, route.Package, route.Entity} {
		if !validIdentifier(part) {
			return Route{Message: "path segment " + strconv.Quote(part) + " contains invalid characters"}
		}
	}
	if reservedTenants[route.Tenant] {
		return Route{Message: "tenant " + strconv.Quote(route.Tenant) + " is not valid"}
	}

	if len(segments) > 3 {
		route.ID = segments[3]
	}
	if len(segments) > 4 {
		route.Action = segments[4]
	}
	if len(segments) > 5 {
		route.ExtraArgs = segments[5:]
	}
	route.Valid = true
	return route
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
