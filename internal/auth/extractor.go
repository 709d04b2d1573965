package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// Default extraction sources.
const (
	DefaultHeaderName = "X-API-Key"
	DefaultQueryParam = "api_key"

	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
	apiKeyScheme        = "ApiKey"
)

// Extractor pulls an API key out of a request. Sources are checked in
// precedence order: the configured header, then Authorization with a
// Bearer or ApiKey scheme, then the configured query parameter. Header
// values always win over query values.
type Extractor struct {
	headerName string
	queryParam string
}

// NewExtractor creates an extractor. Empty arguments fall back to the
// defaults (X-API-Key header, api_key query parameter).
func NewExtractor(headerName, queryParam string) *Extractor {
	if headerName == "" {
		headerName = DefaultHeaderName
	}
	if queryParam == "" {
		queryParam = DefaultQueryParam
	}
	return &Extractor{headerName: headerName, queryParam: queryParam}
}

// Extract returns the presented API key, or the empty string when no
// source carries one.
func (e *Extractor) Extract(header http.Header, query url.Values) string {
	if value := headerLookup(header, e.headerName); value != "" {
		return value
	}

	if value := authorizationToken(header); value != "" {
		return value
	}

	if query != nil {
		if value := strings.TrimSpace(query.Get(e.queryParam)); value != "" {
			return value
		}
	}

	return ""
}

// ExtractFromRequest is a convenience wrapper over Extract for HTTP
// handlers.
func (e *Extractor) ExtractFromRequest(r *http.Request) string {
	return e.Extract(r.Header, r.URL.Query())
}

// headerLookup finds a header value case-insensitively. http.Header.Get
// only matches canonical keys, so a fold-insensitive scan backs it up
// for headers populated outside net/http.
func headerLookup(header http.Header, name string) string {
	if header == nil {
		return ""
	}

	if value := strings.TrimSpace(header.Get(name)); value != "" {
		return value
	}

	for key, values := range header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}

	return ""
}

// authorizationToken extracts the token from an Authorization header
// carrying a Bearer or ApiKey scheme. The scheme match is
// case-insensitive.
func authorizationToken(header http.Header) string {
	value := headerLookup(header, authorizationHeader)
	if value == "" {
		return ""
	}

	scheme, token, found := strings.Cut(value, " ")
	if !found {
		return ""
	}

	if strings.EqualFold(scheme, bearerScheme) || strings.EqualFold(scheme, apiKeyScheme) {
		return strings.TrimSpace(token)
	}

	return ""
}
