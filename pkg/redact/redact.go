// Package redact removes credential-shaped data from payloads before they
// cross into persistence or logging. Redaction is applied independently at
// every boundary; one redacted copy is never assumed to cover another.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// sensitiveFields are field-name heuristics matched case-insensitively
// against map keys, after stripping separators.
var sensitiveFields = map[string]bool{
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"apikey":        true,
	"secret":        true,
	"clientsecret":  true,
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"authorization": true,
	"auth":          true,
	"cookie":        true,
	"setcookie":     true,
	"credential":    true,
	"credentials":   true,
	"privatekey":    true,
	"sessiontoken":  true,
	"bearer":        true,
}

// valuePatterns recognize credential-shaped values regardless of field name
var valuePatterns = []*regexp.Regexp{
	// API keys
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`),

	// Bearer tokens and basic auth headers
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]{16,}`),

	// AWS keys
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

	// Bot tokens (telegram-style numeric:base64)
	regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),

	// JWTs
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9_-]{10,}`),
}

// Redactor performs structural redaction of payloads
type Redactor struct {
	fields   map[string]bool
	patterns []*regexp.Regexp
}

// New creates a redactor with the default field and value heuristics
func New() *Redactor {
	return &Redactor{
		fields:   sensitiveFields,
		patterns: valuePatterns,
	}
}

// AddFieldName registers an additional sensitive field name
func (r *Redactor) AddFieldName(name string) {
	r.fields[normalizeKey(name)] = true
}

// AddPattern registers an additional value pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact returns a deep copy of payload with credential-shaped data replaced
// by a keyed marker. The input is never mutated.
func (r *Redactor) Redact(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if r.isSensitiveKey(k) {
			out[k] = marker(v)
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

// RedactString replaces credential-shaped substrings in a single string.
// Used by the logging writer, which sees formatted output rather than
// structured payloads.
func (r *Redactor) RedactString(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllStringFunc(result, func(m string) string {
			return marker(m)
		})
	}
	return result
}

func (r *Redactor) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return r.Redact(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	case string:
		for _, pattern := range r.patterns {
			if pattern.MatchString(val) {
				return marker(val)
			}
		}
		return val
	default:
		return v
	}
}

func (r *Redactor) isSensitiveKey(key string) bool {
	return r.fields[normalizeKey(key)]
}

func normalizeKey(key string) string {
	k := strings.ToLower(key)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	return k
}

// marker produces a stable keyed hash so two occurrences of the same secret
// are correlatable in audit records without exposing the value.
func marker(v interface{}) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "[REDACTED]"
	}
	sum := sha256.Sum256([]byte(s))
	return "[REDACTED:" + hex.EncodeToString(sum[:])[:8] + "]"
}
