package keys

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Keystore manages multiple key pairs
type Keystore struct {
	keys map[string]*KeyPair
	mu   sync.RWMutex
}

// NewKeystore creates a new keystore
func NewKeystore() *Keystore {
	return &Keystore{
		keys: make(map[string]*KeyPair),
	}
}

// AddKey adds a key pair to the keystore
func (ks *Keystore) AddKey(keyPair *KeyPair) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[keyPair.Address()] = keyPair
}

// GenerateAndAddKey generates a new key pair and adds it to the keystore
func (ks *Keystore) GenerateAndAddKey() (*KeyPair, error) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	ks.AddKey(keyPair)
	return keyPair, nil
}

// GetKey retrieves a key pair by address
func (ks *Keystore) GetKey(address string) (*KeyPair, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	keyPair, exists := ks.keys[address]
	return keyPair, exists
}

// ListAddresses returns all addresses in the keystore, sorted
func (ks *Keystore) ListAddresses() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.sortedLocked()
}

// Save writes the keystore to path as JSON, readable only by the owner
func (ks *Keystore) Save(path string) error {
	ks.mu.RLock()
	list := make([]*KeyPair, 0, len(ks.keys))
	for _, addr := range ks.sortedLocked() {
		list = append(list, ks.keys[addr])
	}
	ks.mu.RUnlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return nil
}

// LoadKeystore reads a keystore written by Save. A missing file yields an
// empty keystore.
func LoadKeystore(path string) (*Keystore, error) {
	ks := NewKeystore()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ks, nil
		}
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var list []*KeyPair
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	for _, kp := range list {
		// re-derive so a hand edited public key cannot disagree with the secret
		derived, err := NewKeyPairFromPrivateKey(kp.PrivateKey)
		if err != nil {
			return nil, err
		}
		ks.AddKey(derived)
	}
	return ks, nil
}

func (ks *Keystore) sortedLocked() []string {
	addresses := make([]string, 0, len(ks.keys))
	for address := range ks.keys {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}
