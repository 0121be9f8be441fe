package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// ErrDigestMismatch is returned when a recomputed digest differs from the expected one
var ErrDigestMismatch = errors.New("state digest mismatch")

// Digest returns a deterministic SHA3-256 digest of the records held by
// this overlay. Two overlays holding the same records over the same base
// have the same digest regardless of write order.
func (s *State) Digest() string {
	return s.Dirty().Digest()
}

// VerifyDigest recomputes the overlay digest and compares it with expected
func (s *State) VerifyDigest(expected string) error {
	if got := s.Digest(); got != expected {
		return ErrDigestMismatch
	}
	return nil
}

// Digest hashes the change set. Records are visited in sorted order and
// each is tagged with its table so equal keys in different tables differ.
func (c *Changes) Digest() string {
	h := sha3.New256()
	write := func(table, key string, record interface{}) {
		// the record types only hold strings, integers, bools and
		// string keyed maps, so encoding cannot fail
		data, _ := json.Marshal(record)
		h.Write([]byte(table))
		h.Write([]byte{0})
		h.Write([]byte(key))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}

	for _, a := range c.Accounts {
		write(accountsTable, a.Address, a)
	}
	for _, ct := range c.Contracts {
		write(contractsTable, ct.Address, ct)
	}
	for _, ch := range c.Chains {
		write(chainsTable, ch.ID, ch)
	}
	for _, e := range c.Evidence {
		write(evidenceTable, e, true)
	}
	if c.Supply != nil {
		write(metaTable, supplyKey, strconv.FormatUint(*c.Supply, 10))
	}
	return hex.EncodeToString(h.Sum(nil))
}
