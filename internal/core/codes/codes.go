// Package codes canonicalizes source vocabulary codes and free text values
// before they are compared or stored.
//
// Code pipeline:
//  1. drop control bytes and invalid UTF-8 (Sanitize)
//  2. NFKC, so ligatures and compatibility forms compare equal
//  3. strip format runes (zero widths, BOM)
//  4. fold fullwidth forms to ASCII
//  5. collapse every whitespace run to one space and trim
//
// Case is preserved: vocabularies such as LOINC and ICD are case sensitive
// in their reference tables. Vocabulary ids are upper cased.
package codes

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Code returns the canonical form of a source code
func Code(s string) string {
	if s == "" {
		return ""
	}
	s = Sanitize(s)

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		ns = s
	}
	return collapseSpaces(ns)
}

// Vocabulary returns the canonical vocabulary id (trimmed, upper case)
func Vocabulary(s string) string {
	return strings.ToUpper(Code(s))
}

// Domain returns the canonical domain name. Domains are compared case
// insensitively and stored title cased, e.g. "condition" -> "Condition"
func Domain(s string) string {
	s = Code(s)
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// Text cleans a free text field value: control bytes go, whitespace runs collapse
func Text(s string) string {
	return collapseSpaces(Sanitize(s))
}

func collapseSpaces(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inWS := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWS = true
			continue
		}
		if inWS && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inWS = false
		b.WriteRune(r)
	}
	return b.String()
}
