package transaction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samuel0642/txengine/internal/types"
)

const (
	maxKVKeyLen   = 64
	maxKVValueLen = 256

	escrowOwnerKey = "owner"
	escrowDeposit  = "deposit"
	escrowRelease  = "release:"
	escrowCodeName = "escrow"
	kvCodeName     = "kv"
)

// Contract is native code a CallContract transaction can invoke. Check
// inspects a payload without touching state; Invoke runs it.
type Contract interface {
	Check(payload []byte) error
	Invoke(cc *ContractContext, payload []byte) error
}

// Contracts maps code names to native contracts
type Contracts struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewContracts creates a registry holding the built-in contracts
func NewContracts() *Contracts {
	return &Contracts{
		contracts: map[string]Contract{
			kvCodeName:     kvContract{},
			escrowCodeName: escrowContract{},
		},
	}
}

// Register adds a contract under name
func (c *Contracts) Register(name string, contract Contract) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.contracts[name]; exists {
		return fmt.Errorf("contract %q already registered", name)
	}
	c.contracts[name] = contract
	return nil
}

// Lookup returns the contract registered under name
func (c *Contracts) Lookup(name string) (Contract, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contract, ok := c.contracts[name]
	return contract, ok
}

// Names lists the registered code names
func (c *Contracts) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.contracts))
	for name := range c.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContractContext is a contract's view of the call it serves. Writes land
// in the same state fork as the calling transaction, so a failing call
// leaves nothing behind.
type ContractContext struct {
	ctx      context.Context
	env      *applyEnv
	Contract *types.Contract
	Caller   string
	Amount   uint64
}

// Get reads a storage slot of the contract
func (cc *ContractContext) Get(key string) (string, bool) {
	v, ok := cc.Contract.Storage[key]
	return v, ok
}

// Set writes a storage slot of the contract. An empty value deletes it.
func (cc *ContractContext) Set(key, value string) {
	if cc.Contract.Storage == nil {
		cc.Contract.Storage = make(map[string]string)
	}
	if value == "" {
		delete(cc.Contract.Storage, key)
		return
	}
	cc.Contract.Storage[key] = value
}

// Balance returns the funds held by the contract account
func (cc *ContractContext) Balance() (uint64, error) {
	acc, ok, err := cc.env.st.LookupAccount(cc.ctx, cc.Contract.Address)
	if err != nil || !ok {
		return 0, err
	}
	return acc.Balance, nil
}

// Transfer moves funds from the contract account to to
func (cc *ContractContext) Transfer(to string, amount uint64) error {
	if !types.IsHexAddress(to) {
		return types.NewError(types.KindInvalidPayload, cc.env.hash, "transfer target %q is not an address", to)
	}
	return cc.env.transfer(cc.ctx, cc.Contract.Address, to, amount)
}

// kvContract stores key=value pairs
type kvContract struct{}

func parseKV(payload []byte) (string, string, error) {
	key, value, ok := bytes.Cut(payload, []byte("="))
	if !ok {
		return "", "", errors.New("kv payload must be key=value")
	}
	if len(key) == 0 || len(key) > maxKVKeyLen {
		return "", "", fmt.Errorf("kv key must be 1 to %d bytes", maxKVKeyLen)
	}
	if len(value) > maxKVValueLen {
		return "", "", fmt.Errorf("kv value must be at most %d bytes", maxKVValueLen)
	}
	return string(key), string(value), nil
}

func (kvContract) Check(payload []byte) error {
	_, _, err := parseKV(payload)
	return err
}

func (kvContract) Invoke(cc *ContractContext, payload []byte) error {
	key, value, err := parseKV(payload)
	if err != nil {
		return err
	}
	cc.Set(key, value)
	return nil
}

// escrowContract holds deposits until its owner releases them. The first
// caller becomes the owner.
type escrowContract struct{}

func parseEscrow(payload []byte) (release string, err error) {
	p := string(payload)
	switch {
	case p == escrowDeposit:
		return "", nil
	case strings.HasPrefix(p, escrowRelease):
		to := strings.TrimPrefix(p, escrowRelease)
		if !types.IsHexAddress(to) {
			return "", fmt.Errorf("release target %q is not an address", to)
		}
		return to, nil
	default:
		return "", fmt.Errorf("escrow payload must be %q or %q<address>", escrowDeposit, escrowRelease)
	}
}

func (escrowContract) Check(payload []byte) error {
	_, err := parseEscrow(payload)
	return err
}

func (escrowContract) Invoke(cc *ContractContext, payload []byte) error {
	to, err := parseEscrow(payload)
	if err != nil {
		return err
	}
	owner, hasOwner := cc.Get(escrowOwnerKey)
	if !hasOwner {
		cc.Set(escrowOwnerKey, cc.Caller)
		owner = cc.Caller
	}
	if to == "" {
		return nil
	}
	if cc.Caller != owner {
		return types.NewError(types.KindUnauthorized, cc.env.hash, "only the escrow owner may release funds")
	}
	balance, err := cc.Balance()
	if err != nil {
		return err
	}
	return cc.Transfer(to, balance)
}
