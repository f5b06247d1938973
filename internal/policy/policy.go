// Package policy holds the privacy-policy data model and the compact
// policy-key grammar used by the gateway.
//
// A policy key is the string the consent service attaches to a consent
// record under opcao_tratamento.chave_politica. Its canonical form is
//
//	ACTION[:k1=v1,k2=v2[:WINDOW[:INTERVAL]]]
//
// e.g. "RAW", "GNOISE:sigma=0.5" or "AVG::0:10S".
package policy

// PrivacyPolicy is a consent record fetched from the MGC. Only the
// treatment option is interpreted here; every other field is opaque and
// preserved round-trip through the cache.
type PrivacyPolicy map[string]any

// Key returns the policy key nested under opcao_tratamento.chave_politica,
// or "" when the record carries none.
func (p PrivacyPolicy) Key() string {
	opt, ok := p["opcao_tratamento"].(map[string]any)
	if !ok {
		return ""
	}
	key, _ := opt["chave_politica"].(string)
	return key
}

// DeviceID returns the dispositivo_id field, or "".
func (p PrivacyPolicy) DeviceID() string {
	id, _ := p["dispositivo_id"].(string)
	return id
}
