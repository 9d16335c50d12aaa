// Package gid converts between Shopify global ids
// ("gid://shopify/Product/123") and plain numeric ids.
//
// Stored trigger products may hold either encoding depending on which code
// path wrote them, so matching always compares both forms.
package gid

import (
	"strings"
)

// Kind is the resource type segment of a global id.
type Kind string

const (
	KindProduct             Kind = "Product"
	KindProductVariant      Kind = "ProductVariant"
	KindAppSubscription     Kind = "AppSubscription"
	KindAppRecurringPricing Kind = "AppRecurringPricing"
)

const scheme = "gid://shopify/"

// IsGlobal reports whether id uses the scheme://type/numeric form.
func IsGlobal(id string) bool {
	return strings.Contains(strings.TrimSpace(id), "://")
}

// ToNumericID extracts the trailing numeric segment of id. Plain numeric
// ids are returned trimmed. Query strings after the id are dropped.
func ToNumericID(id string) string {
	id = strings.TrimSpace(id)
	if !IsGlobal(id) {
		return id
	}
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimRight(id, "/")
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}

// ToGlobalID builds the global id for kind and a numeric (or already
// global) id. Empty input stays empty.
func ToGlobalID(kind Kind, id string) string {
	n := ToNumericID(id)
	if n == "" {
		return ""
	}
	return scheme + string(kind) + "/" + n
}

// MatchesProductRef reports whether a stored identifier and a purchased
// identifier refer to the same resource, in either encoding.
func MatchesProductRef(stored, purchased string) bool {
	stored = strings.TrimSpace(stored)
	purchased = strings.TrimSpace(purchased)
	if stored == "" || purchased == "" {
		return false
	}
	if stored == purchased {
		return true
	}
	sn, pn := ToNumericID(stored), ToNumericID(purchased)
	if sn == "" || pn == "" {
		return false
	}
	if sn == pn {
		return true
	}
	return strings.HasSuffix(stored, "/"+pn) || strings.HasSuffix(purchased, "/"+sn)
}
