// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package debug

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SensitiveKeys contains keys that trigger automatic masking when detected.
// sig covers SAS-signed blob links returned by file and image columns.
var SensitiveKeys = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "auth", "credential",
	"assertion", "sig",
}

// MaskPassword completely masks a password, returning "***"
func MaskPassword(password string) string {
	if len(password) == 0 {
		return ""
	}
	return "***"
}

// MaskToken masks a token, showing only the last 8 characters
// For tokens shorter than 8 characters, returns "****"
func MaskToken(token string) string {
	if len(token) == 0 {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskURL removes credentials from a URL: the userinfo password and the
// values of sensitive query parameters. OData system options such as
// $filter are left untouched and keep their original encoding.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		if pass, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), MaskPassword(pass))
		}
	}

	if parsed.RawQuery != "" {
		pairs := strings.Split(parsed.RawQuery, "&")
		for i, pair := range pairs {
			name, value, found := strings.Cut(pair, "=")
			if found && !strings.HasPrefix(name, "$") && IsSensitiveKey(name) {
				pairs[i] = name + "=" + MaskPassword(value)
			}
		}
		parsed.RawQuery = strings.Join(pairs, "&")
	}

	return parsed.String()
}

// MaskHeader masks sensitive HTTP header values
// - Authorization headers show type but mask the credential
// - Other sensitive headers are masked using MaskToken
func MaskHeader(name, value string) string {
	if len(value) == 0 {
		return ""
	}

	nameLower := strings.ToLower(name)

	if nameLower == "authorization" {
		parts := strings.SplitN(value, " ", 2)
		if len(parts) == 2 {
			return parts[0] + " " + MaskToken(parts[1])
		}
		return MaskToken(value)
	}

	if IsSensitiveKey(nameLower) {
		return MaskToken(value)
	}

	return value
}

// MaskHeaders renders a header set with sensitive values masked.
// Multiple values for one name are joined with ", ".
func MaskHeaders(headers http.Header) map[string]string {
	masked := make(map[string]string, len(headers))
	for name, values := range headers {
		out := make([]string, len(values))
		for i, value := range values {
			out[i] = MaskHeader(name, value)
		}
		masked[name] = strings.Join(out, ", ")
	}
	return masked
}

// HeaderString renders MaskHeaders as one sorted line, for log output
func HeaderString(headers http.Header) string {
	masked := MaskHeaders(headers)
	names := make([]string, 0, len(masked))
	for name := range masked {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + masked[name]
	}
	return strings.Join(parts, "; ")
}

// IsSensitiveKey checks if a key name indicates sensitive data
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range SensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}
