package revocation

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// MaxStatusListBytes bounds the decompressed size of an encoded status list,
// enough for 128Mi credential positions.
const MaxStatusListBytes = 16 << 20

// ErrStatusListTooLarge is returned for lists that inflate beyond MaxStatusListBytes.
var ErrStatusListTooLarge = errors.New("status list too large")

// EncodeStatusList snapshots the revocation flags of credentialIDs into a gzip
// compressed, base64url encoded bitstring. Bit i (least significant bit first
// within each byte) is set when credentialIDs[i] is revoked. Offline verifiers
// carry the snapshot and check positions with StatusAt.
func (l *Ledger) EncodeStatusList(ctx context.Context, credentialIDs []string) (string, error) {
	if len(credentialIDs) > MaxStatusListBytes*8 {
		return "", fmt.Errorf("%w: %d credentials", ErrStatusListTooLarge, len(credentialIDs))
	}

	bits := make([]byte, (len(credentialIDs)+7)/8)

	for i, id := range credentialIDs {
		revoked, err := l.IsRevoked(ctx, id)
		if err != nil {
			return "", err
		}

		if revoked {
			bits[i/8] |= 1 << (i % 8)
		}
	}

	return compressToBase64URL(bits)
}

// StatusAt reports whether the credential at position is revoked in an encoded list.
func StatusAt(encodedList string, position int) (bool, error) {
	if position < 0 {
		return false, fmt.Errorf("invalid status position %d", position)
	}

	bits, err := decompressFromBase64URL(encodedList)
	if err != nil {
		return false, fmt.Errorf("failed to decode status list: %w", err)
	}

	byteIndex := position / 8
	if byteIndex >= len(bits) {
		return false, fmt.Errorf("status position %d out of range", position)
	}

	return (bits[byteIndex]>>(position%8))&1 == 1, nil
}

func compressToBase64URL(data []byte) (string, error) {
	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return "", err
	}

	if err := gz.Close(); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

func decompressFromBase64URL(data string) ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	bits, err := io.ReadAll(io.LimitReader(gz, MaxStatusListBytes+1))
	if err != nil {
		return nil, err
	}

	if len(bits) > MaxStatusListBytes {
		return nil, ErrStatusListTooLarge
	}

	return bits, nil
}
