// Package jobfile holds the value types that describe a single remote job:
// the encoded argument vector consumed by the job wrapper script and the
// per-input-file handling flags.
package jobfile

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// emptySentinel stands in for empty strings and lists before encoding, so
// that the wrapper always receives a non-empty positional token.
const emptySentinel = "-"

// Arguments describes one job invocation. Tokens() and Join() produce the
// exact six-token vector expected by the external job wrapper; token count
// and order are a versioned contract with the wrapper and must not change
// without a corresponding wrapper update.
type Arguments struct {
	TaskModule    string
	TaskClass     string
	TaskParams    string
	Branches      []int
	AutoRetry     bool
	DashboardData []string
}

// EncodeBool encodes a boolean as "yes" or "no".
func EncodeBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EncodeString encodes a string via base64, mapping the empty string to the
// "-" sentinel first so the result is never empty.
func EncodeString(s string) string {
	if s == "" {
		s = emptySentinel
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeString reverses EncodeString. The sentinel decodes back to "".
func DecodeString(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	if string(raw) == emptySentinel {
		return "", nil
	}
	return string(raw), nil
}

// EncodeList joins elements with single spaces and base64-encodes the result,
// using the "-" sentinel for empty lists.
func EncodeList(items []string) string {
	return EncodeString(strings.Join(items, " "))
}

// EncodeIntList is EncodeList for integer elements.
func EncodeIntList(items []int) string {
	strs := make([]string, len(items))
	for i, v := range items {
		strs[i] = strconv.Itoa(v)
	}
	return EncodeList(strs)
}

// Tokens returns the ordered, encoded argument vector.
func (a Arguments) Tokens() []string {
	return []string{
		a.TaskModule,
		a.TaskClass,
		EncodeString(a.TaskParams),
		EncodeIntList(a.Branches),
		EncodeBool(a.AutoRetry),
		EncodeList(a.DashboardData),
	}
}

// Join concatenates the token vector with single spaces.
func (a Arguments) Join() string {
	return strings.Join(a.Tokens(), " ")
}
