// Package requestid issues and vets the ids that tie a dispatch call's log lines and spans together.
package requestid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	Header = "X-Request-Id"
	maxLen = 128
)

// New returns a fresh, lexically sortable id.
func New() string {
	return ulid.Make().String()
}

// Accept returns the caller's id when it is safe to echo into logs and headers, otherwise a new one.
// Bots forward their interaction id here, so anything printable up to maxLen is kept.
func Accept(incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || len(incoming) > maxLen {
		return New()
	}
	for i := 0; i < len(incoming); i++ {
		if c := incoming[i]; c < 0x21 || c > 0x7e {
			return New()
		}
	}
	return incoming
}

// IsGenerated reports whether id has the shape of an id issued by New.
func IsGenerated(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
