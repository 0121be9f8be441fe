package types

// Account represents an account in the ledger
type Account struct {
	Address     string            `json:"address"`
	Balance     uint64            `json:"balance"`
	Stake       uint64            `json:"stake"`
	Validator   bool              `json:"validator"`
	Online      bool              `json:"online"`
	Delegations map[string]uint64 `json:"delegations,omitempty"`
}

// NewAccount creates a new account
func NewAccount(address string, balance uint64) *Account {
	return &Account{
		Address:     address,
		Balance:     balance,
		Delegations: make(map[string]uint64),
	}
}

// Clone returns a deep copy of the account
func (a *Account) Clone() *Account {
	c := *a
	c.Delegations = make(map[string]uint64, len(a.Delegations))
	for k, v := range a.Delegations {
		c.Delegations[k] = v
	}
	return &c
}

// Chain represents a chain record provisioned by a CreateChain transaction
type Chain struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Creator   string `json:"creator"`
	CreatedAt uint64 `json:"createdAt"`
}

// Contract represents a deployed native contract
type Contract struct {
	Address string            `json:"address"`
	Code    string            `json:"code"`
	Storage map[string]string `json:"storage,omitempty"`
}

// Clone returns a deep copy of the contract
func (c *Contract) Clone() *Contract {
	n := *c
	n.Storage = make(map[string]string, len(c.Storage))
	for k, v := range c.Storage {
		n.Storage[k] = v
	}
	return &n
}
