// Package orderkey implements the base-62 fractional index used to order
// sibling blocks within a document (spec §4.1, invariant I4, property P5).
//
// Keys compare by plain lexicographic byte order (I4): a shorter key that is
// a prefix of a longer one sorts first, exactly like Go string comparison.
// "" is the universal minimum (before-first); when passed as the upper
// bound to Midpoint, "" instead means the universal maximum (after-last) —
// the same literal value carries opposite meaning depending on which side
// it's passed on, matching the spec's endpoint convention.
package orderkey

// alphabet is the base-62 digit set in ascending order. Its character order
// matches plain ASCII byte order (digits, then uppercase, then lowercase),
// so comparing keys as strings is equivalent to comparing them digit by
// digit in this alphabet.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

var digitValue [256]int

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < base; i++ {
		digitValue[alphabet[i]] = i
	}
}

// First returns a reasonable starting key for the only block in an
// otherwise-empty sibling list. It deliberately avoids the alphabet's
// minimum character so that a later insertion before it is never the
// degenerate case described in Midpoint's doc comment.
func First() string {
	return string(alphabet[base/2])
}

// Midpoint returns a key m such that a < m < b lexicographically, where ""
// passed as a means the minimum (before-first) and "" passed as b means the
// maximum (after-last). The result consumes at most one extra character of
// length beyond max(len(a), len(b)), and is a pure function of (a, b): two
// replicas computing it independently for the same pair always agree.
//
// Degenerate case: there is no string strictly between "" and the single
// minimum-digit key "0" (any nonempty string starting with the minimum
// digit is a superstring of "0", hence greater, never less). Callers that
// always start sequences from First() rather than the literal minimum digit
// never hit this; Midpoint panics if asked to solve it anyway, since no
// answer exists.
func Midpoint(a, b string) string {
	if a != "" && b != "" && a >= b {
		panic("orderkey: Midpoint requires a < b")
	}
	if a == "" && b == string(alphabet[0]) {
		panic("orderkey: Midpoint(\"\", \"" + string(alphabet[0]) + "\") has no solution")
	}

	var out []byte
	maxSteps := len(a) + len(b) + 2
	for i := 0; i <= maxSteps; i++ {
		da := -1
		if i < len(a) {
			da = digitValue[a[i]]
		}

		db := base
		if b != "" && i < len(b) {
			db = digitValue[b[i]]
		}

		if da+1 < db {
			mid := da + 1 + (db-da-1)/2
			// Never end a key on the minimum digit: that key would be the
			// degenerate bound with nothing before it. Emit the minimum
			// digit as a prefix instead and keep descending.
			if mid > 0 {
				out = append(out, alphabet[mid])
				return string(out)
			}
		}

		appendDigit := da
		if appendDigit < 0 {
			appendDigit = 0
		}
		out = append(out, alphabet[appendDigit])
	}

	// Defensive fallback for malformed input that never converged; never
	// returns an empty string so the caller always gets a usable key.
	out = append(out, alphabet[base/2])
	return string(out)
}

// Less reports whether a sorts strictly before b under the ordering
// Midpoint assumes (plain byte-wise lexicographic comparison).
func Less(a, b string) bool {
	return a < b
}

// minimumKey is the degenerate key Midpoint's doc comment describes: the
// single character with no valid key before it other than "".
var minimumKey = string(alphabet[0])

// Normalize rewrites a key equal to the literal minimum digit into an
// equivalent key that sorts immediately after it, so it can never reach
// Midpoint as an upper bound and trigger the no-solution panic. Any other
// key, including "", is returned unchanged.
//
// This exists because order keys admitted over the wire (blockstore's
// MergeOps) are not under local control the way keys minted by First/
// Midpoint are: a faulty or adversarial peer can assert any string as a
// block's OrderKey, and a document whose first sibling carries the literal
// minimum digit would later panic the first time a local insert targets
// the front of that sibling list.
func Normalize(key string) string {
	if key != minimumKey {
		return key
	}
	return minimumKey + string(alphabet[base/2])
}
