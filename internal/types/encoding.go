package types

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// HashLength is the length of a hex encoded digest
const HashLength = 64

// CanonicalBytes returns the deterministic encoding of the transaction's
// semantic fields: sender, receiver, decimal amount, decimal nonce, one type
// byte and payload, concatenated without delimiters.
func (t *Transaction) CanonicalBytes() []byte {
	return t.canonicalBytesAt(t.Nonce)
}

func (t *Transaction) canonicalBytesAt(nonce uint64) []byte {
	out := make([]byte, 0, len(t.Sender)+len(t.Receiver)+len(t.Payload)+41)
	out = append(out, t.Sender...)
	out = append(out, t.Receiver...)
	out = strconv.AppendUint(out, t.Amount, 10)
	out = strconv.AppendUint(out, nonce, 10)
	out = append(out, byte(t.Type))
	out = append(out, t.Payload...)
	return out
}

// ComputeHash returns the digest of the transaction's canonical bytes
func (t *Transaction) ComputeHash() string {
	return HashBytes(t.CanonicalBytes())
}

// HashAtNonce returns the digest the transaction would have with nonce
// substituted. The transaction is not modified.
func (t *Transaction) HashAtNonce(nonce uint64) string {
	return HashBytes(t.canonicalBytesAt(nonce))
}

// HashBytes returns the lowercase hex SHA3-256 digest of data
func HashBytes(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsHexAddress reports whether s is a well formed address
func IsHexAddress(s string) bool {
	if len(s) != AddressLength {
		return false
	}
	return isLowerHex(s)
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
