// Package content fingerprints captured payloads for the readiness gate.
//
// An Extractor maps a raw payload to a Sample: a content hash, a terminal
// flag and a text length. CanonicalExtractor derives the hash from RFC 8785
// style canonical JSON so that two payloads with the same meaning hash the
// same regardless of key order or Unicode normalization form:
//
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping; U+2028 and U+2029 written literally
//   - strings NFC normalized
//
// Hashes are SHA-256 with domain separation:
//
//	SHA256("capgate/content/v1" || 0x00 || canonical)
//
// An empty hash means "no canonical data" to the readiness gate.
package content
