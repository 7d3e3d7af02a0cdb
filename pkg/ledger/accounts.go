package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// AccountID identifies a token balance: a holder and the custody whose
// asset it holds. Custody vaults use the custody identity as holder.
type AccountID struct {
	Holder  darkpool.Identity `json:"holder"`
	Custody darkpool.Identity `json:"custody"`
}

// FundingAccount is a trader's balance of the collateral token.
func FundingAccount(owner, collateralCustody darkpool.Identity) AccountID {
	return AccountID{Holder: owner, Custody: collateralCustody}
}

// VaultAccount is the custody-owned vault balance for its own token.
func VaultAccount(custody darkpool.Identity) AccountID {
	return AccountID{Holder: custody, Custody: custody}
}

// Transfer is one balance movement, applied only under the system
// transfer authority.
type Transfer struct {
	From   AccountID
	To     AccountID
	Amount uint64
}

// Accounts tracks token balances. All movements require the system-held
// transfer authority; neither counterparty can authorize a transfer.
type Accounts struct {
	mu        sync.Mutex
	balances  map[AccountID]uint64
	authority common.Address
	store     *Store // optional persistence
}

func NewAccounts(authority common.Address, store *Store) *Accounts {
	return &Accounts{
		balances:  make(map[AccountID]uint64),
		authority: authority,
		store:     store,
	}
}

// Deposit credits an account directly (bridge inflow; no authority
// needed because nothing leaves another account).
func (a *Accounts) Deposit(id AccountID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("deposit amount must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.balances[id] += amount
	return a.persistLocked(id)
}

func (a *Accounts) Balance(id AccountID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[id]
}

// Apply executes a set of transfers atomically: balances are checked and
// moved under one lock, and either every transfer lands or none does.
func (a *Accounts) Apply(authority common.Address, transfers []Transfer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staged, err := a.stageLocked(authority, transfers)
	if err != nil {
		return err
	}

	if a.store != nil {
		batch := a.store.NewBatch()
		for id, v := range staged {
			if err := batch.SetBalance(id, v); err != nil {
				batch.Close()
				return err
			}
		}
		if err := batch.Commit(); err != nil {
			return err
		}
	}
	for id, v := range staged {
		a.balances[id] = v
	}
	return nil
}

// stageLocked validates transfers against a working copy of the
// affected balances and returns the post-transfer values. Nothing is
// mutated; a late failure cannot leave a partial move. Callers hold
// a.mu.
func (a *Accounts) stageLocked(authority common.Address, transfers []Transfer) (map[AccountID]uint64, error) {
	if authority != a.authority {
		return nil, fmt.Errorf("transfer authority mismatch: %s", authority.Hex())
	}

	staged := make(map[AccountID]uint64)
	get := func(id AccountID) uint64 {
		if v, ok := staged[id]; ok {
			return v
		}
		return a.balances[id]
	}
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		from := get(t.From)
		if from < t.Amount {
			return nil, fmt.Errorf("insufficient balance in %s/%s: have %d, need %d",
				t.From.Holder, t.From.Custody, from, t.Amount)
		}
		staged[t.From] = from - t.Amount
		staged[t.To] = get(t.To) + t.Amount
	}
	return staged, nil
}

// Load restores balances from the store at startup.
func (a *Accounts) Load() error {
	if a.store == nil {
		return nil
	}

	balances, err := a.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}

	a.mu.Lock()
	a.balances = balances
	a.mu.Unlock()
	return nil
}

func (a *Accounts) persistLocked(id AccountID) error {
	if a.store == nil {
		return nil
	}
	return a.store.SaveBalance(id, a.balances[id])
}
