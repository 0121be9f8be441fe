package types

import "fmt"

// AddressLength is the length of a hex encoded address (32 byte x-only public key)
const AddressLength = 64

// TxType represents the kind of a transaction
type TxType uint8

const (
	// TxSend moves funds from sender to receiver
	TxSend TxType = iota
	// TxBurn destroys funds
	TxBurn
	// TxToggleOnline flips a validator's liveness flag
	TxToggleOnline
	// TxEvidence reports a validator voting on multiple chains
	TxEvidence
	// TxDelegate delegates (or undelegates) staking power to a validator
	TxDelegate
	// TxCallContract calls a contract's associated functions
	TxCallContract
	// TxCreateChain creates a new chain record, governance only
	TxCreateChain
	// TxCoinbase mints the block reward, first transaction of a block
	TxCoinbase

	numTxTypes
)

var txTypeNames = [numTxTypes]string{
	TxSend:         "send",
	TxBurn:         "burn",
	TxToggleOnline: "toggle_online",
	TxEvidence:     "evidence",
	TxDelegate:     "delegate",
	TxCallContract: "call_contract",
	TxCreateChain:  "create_chain",
	TxCoinbase:     "coinbase",
}

// Valid reports whether t is one of the defined transaction kinds
func (t TxType) Valid() bool {
	return t < numTxTypes
}

func (t TxType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
	return txTypeNames[t]
}

// ParseTxType parses the name produced by TxType.String
func ParseTxType(name string) (TxType, error) {
	for i, n := range txTypeNames {
		if n == name {
			return TxType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transaction type %q", name)
}

// AllTxTypes returns every defined transaction kind in tag order
func AllTxTypes() []TxType {
	types := make([]TxType, 0, numTxTypes)
	for t := TxType(0); t < numTxTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Transaction represents a transaction in the system
type Transaction struct {
	Hash      string `json:"hash"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Type      TxType `json:"type"`
	Payload   string `json:"payload"`
	Pow       string `json:"pow"`
	Signature string `json:"signature"`
}

// NewTransaction creates a new unsigned transaction with its hash computed
func NewTransaction(sender, receiver string, amount uint64, txType TxType, payload string) *Transaction {
	tx := &Transaction{
		Sender:   sender,
		Receiver: receiver,
		Amount:   amount,
		Type:     txType,
		Payload:  payload,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

// Rehash recomputes the hash after a field change. Any existing signature
// no longer covers the transaction.
func (t *Transaction) Rehash() {
	t.Hash = t.ComputeHash()
}

// Copy returns a shallow copy of the transaction
func (t *Transaction) Copy() *Transaction {
	c := *t
	return &c
}

// Receipt represents the outcome of executing a transaction
type Receipt struct {
	Hash        string `json:"hash"`
	Type        TxType `json:"type"`
	Fee         uint64 `json:"fee"`
	StateDigest string `json:"stateDigest"`
	Sequence    uint64 `json:"sequence"`
}
