package engine

import (
	"custodia/pkg/domain"
)

// Algorithm identifiers recorded in envelopes so decryption can reject
// anything it does not understand.
const (
	AlgorithmAESGCM = "AES-256-GCM"
)

// Envelope is the persisted form of an encrypted value. Everything needed to
// decrypt and validate travels with the ciphertext; nothing outside the KMS
// holds key material.
type Envelope struct {
	Ciphertext     []byte                `json:"ciphertext"`
	Nonce          []byte                `json:"nonce"`
	KeyID          string                `json:"key_id"`
	Classification domain.Classification `json:"classification"`
	Algorithm      string                `json:"algorithm"`
	// Context is the label identifying the field or use-site the value was
	// encrypted for. It is bound into the authenticated data, so a ciphertext
	// lifted into another context fails decryption.
	Context string `json:"context"`
}

// FileEnvelope wraps an encrypted file plus its metadata. Checksum is the
// SHA-256 of the plaintext content, verified after decryption to catch
// corruption that authenticated decryption alone cannot attribute.
type FileEnvelope struct {
	Envelope Envelope `json:"envelope"`
	Checksum string   `json:"checksum"`
}

// filePayload is the plaintext framing inside a file envelope. Filename and
// MIME type are confidential alongside the content.
type filePayload struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// File is a decrypted file with its metadata.
type File struct {
	Filename string
	MimeType string
	Data     []byte
}

// Signature is a keyed integrity signature. The key identifier travels with
// the MAC so signatures stay verifiable across integrity-key rotation.
type Signature struct {
	KeyID string `json:"key_id"`
	MAC   []byte `json:"mac"`
}
