package plan

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Key identifies a cached plan.
type Key string

// Domain prefixes keep interpretation and plan keys apart. The version
// suffix allows the key algorithm to change.
const (
	domainInterpretation = "orq/interpretation/v1"
	domainPlan           = "orq/plan/v1"
)

// hashWithDomain hashes parts under domain.
// Format: SHA256(domain + 0x00 + part0 + 0x00 + part1 ...)
func hashWithDomain(domain string, parts ...string) Key {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}

func interpretationKey(text, resultType string) Key {
	return hashWithDomain(domainInterpretation, norm.NFC.String(text), resultType)
}

// KeyFor returns the cache key of req. There is no key when the plan
// depends on the execution: a parameter is bound to a list, a fetch graph
// is applied, or a filter is enabled.
func KeyFor(req Request) (Key, bool) {
	if req.Query == nil {
		return "", false
	}
	if req.Bindings.HasMultiValued() || len(req.FetchGraph) > 0 || len(req.Filters) > 0 {
		return "", false
	}
	return hashWithDomain(domainPlan,
		norm.NFC.String(req.Query.Text),
		req.Query.ResultType,
		req.Query.Statement.Signature()), true
}
