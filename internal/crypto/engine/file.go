package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/domain"
)

// fileContext is the use-site label for file envelopes. Files always carry
// their own framing, so one label covers them all.
const fileContext = "file-storage"

// EncryptFile wraps the file content plus filename and MIME type in an
// envelope and returns a plaintext checksum for post-decryption verification.
func (e *Engine) EncryptFile(ctx context.Context, data []byte, filename, mimeType string, c domain.Classification) (*FileEnvelope, error) {
	if filename == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "filename cannot be empty")
	}

	payload, err := json.Marshal(filePayload{Filename: filename, MimeType: mimeType, Data: data})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to frame file payload")
	}

	env, err := e.Encrypt(ctx, payload, c, fileContext)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &FileEnvelope{
		Envelope: *env,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// DecryptFile opens a file envelope and verifies the plaintext checksum.
// A checksum mismatch after successful authenticated decryption is reported
// as corruption, distinct from an authentication failure.
func (e *Engine) DecryptFile(ctx context.Context, fe *FileEnvelope) (*File, error) {
	if fe == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "file envelope cannot be nil")
	}

	payload, err := e.Decrypt(ctx, &fe.Envelope, fileContext)
	if err != nil {
		return nil, err
	}

	var framed filePayload
	if err := json.Unmarshal(payload, &framed); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCorrupted, "file framing is unreadable")
	}

	sum := sha256.Sum256(framed.Data)
	if hex.EncodeToString(sum[:]) != fe.Checksum {
		return nil, dErrors.New(dErrors.CodeCorrupted, "file content checksum mismatch")
	}

	return &File{
		Filename: framed.Filename,
		MimeType: framed.MimeType,
		Data:     framed.Data,
	}, nil
}
