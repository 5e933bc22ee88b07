package upload

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// EncodeChunk returns the transport form of a binary payload.
func EncodeChunk(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// EncodeReader streams r into its transport form. The result equals
// EncodeChunk of the full content.
func EncodeReader(r io.Reader) (string, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	if _, err := io.Copy(enc, r); err != nil {
		return "", fmt.Errorf("encode chunk: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode chunk: %w", err)
	}
	return sb.String(), nil
}
