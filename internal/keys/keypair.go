// Package keys implements the keypair boundary: BIP-340 Schnorr signatures
// over secp256k1, with 32 byte x-only public keys used directly as addresses.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/samuel0642/txengine/internal/types"
)

var (
	ErrMalformedKey       = errors.New("malformed key")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrMalformedHash      = errors.New("malformed hash")
	ErrBadSignature       = errors.New("signature does not verify")
)

// KeyPair represents a Schnorr key pair with hex encoded keys
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateKeyPair generates a new key pair
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return fromPrivate(priv), nil
}

// NewKeyPairFromPrivateKey creates a key pair from an existing private key
func NewKeyPairFromPrivateKey(privateKeyHex string) (*KeyPair, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: private key must be %d hex bytes", ErrMalformedKey, btcec.PrivKeyBytesLen)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivate(priv), nil
}

func fromPrivate(priv *btcec.PrivateKey) *KeyPair {
	return &KeyPair{
		PublicKey:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
	}
}

// Address returns the account address controlled by the key pair
func (kp *KeyPair) Address() string {
	return kp.PublicKey
}

// Sign signs a hex encoded 32 byte digest
func (kp *KeyPair) Sign(hashHex string) (string, error) {
	digest, err := decodeHash(hashHex)
	if err != nil {
		return "", err
	}
	raw, err := hex.DecodeString(kp.PrivateKey)
	if err != nil || len(raw) != btcec.PrivKeyBytesLen {
		return "", ErrMalformedKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// SignTransaction signs the transaction hash and stores the signature
func (kp *KeyPair) SignTransaction(tx *types.Transaction) error {
	sig, err := kp.Sign(tx.Hash)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Verify checks a hex signature over a hex digest using the hex x-only public key
func Verify(publicKeyHex, hashHex, signatureHex string) error {
	rawPub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return ErrMalformedKey
	}
	pub, err := schnorr.ParsePubKey(rawPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	digest, err := decodeHash(hashHex)
	if err != nil {
		return err
	}
	rawSig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrMalformedSignature
	}
	sig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if !sig.Verify(digest, pub) {
		return ErrBadSignature
	}
	return nil
}

func decodeHash(hashHex string) ([]byte, error) {
	digest, err := hex.DecodeString(hashHex)
	if err != nil || len(digest) != 32 {
		return nil, ErrMalformedHash
	}
	return digest, nil
}

// Verifier verifies a signature over a message hash with the sender string
// as public key material
type Verifier interface {
	Verify(publicKey, hash, signature string) error
}

// SchnorrVerifier is the default Verifier
type SchnorrVerifier struct{}

// Verify implements Verifier
func (SchnorrVerifier) Verify(publicKey, hash, signature string) error {
	return Verify(publicKey, hash, signature)
}
