package model

import (
	"bytes"

	"github.com/libsv/go-bk/base58"
	"github.com/libsv/go-bk/crypto"
	"github.com/tessacoin/tessanode/errors"
)

const checksumLen = 4

// EncodeBase58Check renders version ‖ payload ‖ checksum, where the checksum
// is the first four bytes of the double sha256 of version ‖ payload.
func EncodeBase58Check(version []byte, payload []byte) string {
	b := make([]byte, 0, len(version)+len(payload)+checksumLen)
	b = append(b, version...)
	b = append(b, payload...)
	b = append(b, crypto.Sha256d(b)[:checksumLen]...)

	return base58.Encode(b)
}

// DecodeBase58Check verifies the checksum and the version prefix of s and
// returns the payload.
func DecodeBase58Check(s string, version []byte) ([]byte, error) {
	b := base58.Decode(s)
	if len(b) < len(version)+checksumLen {
		return nil, errors.NewInvalidArgumentError("invalid base58 string length")
	}

	body, checksum := b[:len(b)-checksumLen], b[len(b)-checksumLen:]
	if !bytes.Equal(crypto.Sha256d(body)[:checksumLen], checksum) {
		return nil, errors.NewInvalidArgumentError("invalid base58 checksum")
	}

	if !bytes.HasPrefix(body, version) {
		return nil, errors.NewInvalidArgumentError("unexpected version bytes")
	}

	return body[len(version):], nil
}
