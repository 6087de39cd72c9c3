// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events renders submit progress and keeps secrets out of anything
// written to the terminal or the local history.
package events

import "strings"

const secretToken = "[secret]"

func SecretToken() string { return secretToken }

// RedactSecrets returns a copy of values with every key in secretNames
// replaced by [secret]. Empty strings stay empty.
func RedactSecrets(values map[string]any, secretNames map[string]struct{}) map[string]any {
	if len(secretNames) == 0 || len(values) == 0 {
		return values
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := secretNames[k]; ok && v != "" {
			out[k] = secretToken
			continue
		}
		out[k] = v
	}
	return out
}

// NewLineRedactor returns a function replacing every occurrence of the
// non-empty secretValues, or nil when there is nothing to hide.
func NewLineRedactor(secretValues []string) func(string) string {
	filtered := make([]string, 0, len(secretValues))
	for _, val := range secretValues {
		if val != "" {
			filtered = append(filtered, val)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return func(line string) string {
		for _, secret := range filtered {
			line = strings.ReplaceAll(line, secret, secretToken)
		}
		return line
	}
}
