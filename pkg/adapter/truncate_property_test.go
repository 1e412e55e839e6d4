//go:build property
// +build property

// Property-based tests for payload truncation and content hashing: limits
// hold for arbitrary Unicode input, and canonically equivalent inputs
// produce identical dispatch content.
package adapter_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/bosun/pkg/adapter"
)

func TestTruncateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("output never exceeds the rune limit", prop.ForAll(
		func(s string, limit int) bool {
			out := adapter.Truncate(s, limit)
			if limit <= 0 {
				return out == norm.NFC.String(s)
			}
			return utf8.RuneCountInString(out) <= limit
		},
		gen.AnyString(), gen.IntRange(-5, 300),
	))

	properties.Property("truncation is idempotent", prop.ForAll(
		func(s string, limit int) bool {
			once := adapter.Truncate(s, limit)
			return adapter.Truncate(once, limit) == once
		},
		gen.AnyString(), gen.IntRange(-5, 300),
	))

	properties.Property("canonically equivalent inputs truncate identically", prop.ForAll(
		func(s string, limit int) bool {
			decomposed := norm.NFD.String(s)
			return adapter.Truncate(decomposed, limit) == adapter.Truncate(s, limit)
		},
		gen.AnyString(), gen.IntRange(1, 300),
	))

	properties.Property("a cut payload carries the marker", prop.ForAll(
		func(s string, limit int) bool {
			normalized := norm.NFC.String(s)
			if utf8.RuneCountInString(normalized) <= limit {
				return true
			}
			return strings.HasSuffix(adapter.Truncate(s, limit), "...")
		},
		gen.AnyString(), gen.IntRange(4, 300),
	))

	properties.TestingRun(t)
}

func TestContentHashProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hashing is deterministic", prop.ForAll(
		func(target, payload string) bool {
			return adapter.ContentHash(target, payload) == adapter.ContentHash(target, payload)
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("the hash covers the target, not just the payload", prop.ForAll(
		func(a, b, payload string) bool {
			if a == b {
				return true
			}
			return adapter.ContentHash(a, payload) != adapter.ContentHash(b, payload)
		},
		gen.AlphaString(), gen.AlphaString(), gen.AnyString(),
	))

	properties.TestingRun(t)
}
