package gasbank

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tos-network/gtos-faas/kvstore"
	"github.com/tos-network/gtos-faas/log"
)

const tableIdempotency = "ledger_idempotency"

// Ledger is the C2 Gas-Bank ledger. All state changes are transactional
// against the backing kvstore.Store: a ledger append and the account
// update it implies are written together, and per-principal mutations are
// serialized by a lock owned here (the ledger exclusively owns
// GasAccount mutation, per the data model's ownership rules).
type Ledger struct {
	store kvstore.Store
	log   log.Logger

	mu    sync.Mutex // guards locks map itself
	locks map[string]*sync.Mutex

	// DynamicFeeOracle resolves the Dynamic fee model's runtime value.
	// Nil means Dynamic always charges zero.
	DynamicFeeOracle func() uint64

	// OnEntry, if set, observes every appended LedgerEntry after it is
	// durably written. Wired to an observability sink; nil is a no-op.
	OnEntry func(entryType string, principal string, amount, fee uint64)
}

// New creates a Ledger backed by store.
func New(store kvstore.Store) *Ledger {
	return &Ledger{
		store: store,
		log:   log.New("component", "gasbank"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(principal string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[principal]
	if !ok {
		m = &sync.Mutex{}
		l.locks[principal] = m
	}
	return m
}

func (l *Ledger) getAccount(principal string) (*GasAccount, error) {
	raw, err := l.store.Get(TableGasAccounts, []byte(principal))
	if err == kvstore.ErrNoSuchKey {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gasbank: storage error reading account: %w", err)
	}
	return unmarshalAccount(raw)
}

func (l *Ledger) putAccount(a *GasAccount) error {
	raw, err := marshalAccount(a)
	if err != nil {
		return err
	}
	return l.store.Put(TableGasAccounts, []byte(a.Principal), raw, kvstore.PutOptions{})
}

func ledgerKey(principal string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", principal, seq))
}

// CreateAccount creates a fresh GasAccount. Fails with ErrAlreadyExists if
// one already exists for principal.
func (l *Ledger) CreateAccount(principal string, feeModel FeeModel, creditLimit uint64) (*GasAccount, error) {
	lock := l.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	if _, err := l.getAccount(principal); err == nil {
		return nil, ErrAlreadyExists
	} else if err != ErrAccountNotFound {
		return nil, err
	}
	acct := &GasAccount{
		Principal:   principal,
		FeeModel:    feeModel,
		CreditLimit: creditLimit,
		Status:      StatusActive,
	}
	if err := l.putAccount(acct); err != nil {
		return nil, fmt.Errorf("gasbank: storage error creating account: %w", err)
	}
	return acct, nil
}

func (l *Ledger) appendEntry(principal string, acct *GasAccount, entryType LedgerEntryType, amount, fee uint64, reference, txHash string) (*LedgerEntry, error) {
	entry := &LedgerEntry{
		ID:        uuid.NewString(),
		Principal: principal,
		Type:      entryType,
		Amount:    amount,
		Fee:       fee,
		Reference: reference,
		Timestamp: time.Now().UnixNano(),
		TxHash:    txHash,
	}
	raw, err := marshalEntry(entry)
	if err != nil {
		return nil, err
	}
	seq := acct.Seq
	acct.Seq++
	acctRaw, err := marshalAccount(acct)
	if err != nil {
		return nil, err
	}
	batch := []kvstore.PutEntry{
		{Table: TableLedger, Key: ledgerKey(principal, seq), Value: raw},
		{Table: TableGasAccounts, Key: []byte(principal), Value: acctRaw},
	}
	if txHash != "" {
		batch = append(batch, kvstore.PutEntry{
			Table: tableIdempotency,
			Key:   []byte(principal + ":" + txHash),
			Value: raw,
		})
	}
	if _, err := l.store.MultiPut(batch); err != nil {
		return nil, fmt.Errorf("gasbank: storage error appending ledger entry: %w", err)
	}
	if l.OnEntry != nil {
		l.OnEntry(string(entryType), principal, amount, fee)
	}
	return entry, nil
}

// lookupIdempotent returns the previously recorded entry for (principal,
// txHash), if any.
func (l *Ledger) lookupIdempotent(principal, txHash string) (*LedgerEntry, bool, error) {
	if txHash == "" {
		return nil, false, nil
	}
	raw, err := l.store.Get(tableIdempotency, []byte(principal+":"+txHash))
	if err == kvstore.ErrNoSuchKey {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e, err := unmarshalEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Deposit credits principal's balance by amount, creating the account
// lazily with zero credit if absent. Idempotent on txHash: replaying the
// same hash is a no-op that returns the prior entry.
func (l *Ledger) Deposit(txHash, principal string, amount uint64) (*LedgerEntry, error) {
	lock := l.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	if prior, ok, err := l.lookupIdempotent(principal, txHash); err != nil {
		return nil, fmt.Errorf("gasbank: storage error: %w", err)
	} else if ok {
		return prior, nil
	}

	acct, err := l.getAccount(principal)
	if err == ErrAccountNotFound {
		acct = &GasAccount{Principal: principal, FeeModel: NewFreeFee(), Status: StatusActive}
	} else if err != nil {
		return nil, err
	}
	acct.Balance += amount
	entry, err := l.appendEntry(principal, acct, EntryDeposit, amount, 0, "", txHash)
	if err != nil {
		return nil, err
	}
	l.log.Debug("deposit", "principal", principal, "amount", amount)
	return entry, nil
}

// Withdraw debits balance by amount plus its fee. Fails InsufficientFunds
// if balance < amount+fee.
func (l *Ledger) Withdraw(principal string, amount uint64) (*LedgerEntry, error) {
	lock := l.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	acct, err := l.getAccount(principal)
	if err != nil {
		return nil, err
	}
	fee := CalculateFee(amount, acct.FeeModel, l.DynamicFeeOracle)
	total := amount + fee
	if acct.Balance < total {
		return nil, ErrInsufficientFunds
	}
	acct.Balance -= total
	entry, err := l.appendEntry(principal, acct, EntryWithdrawal, amount, fee, "", "")
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PayGas charges principal amount+fee(amount), drawing first from balance
// and then from remaining credit (credit_limit - used_credit). Idempotent
// on txHash. Per the Open Question decision in SPEC_FULL.md §7.1, partial
// balance+credit draws are allowed.
func (l *Ledger) PayGas(txHash, principal string, amount uint64) (*LedgerEntry, error) {
	lock := l.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	if prior, ok, err := l.lookupIdempotent(principal, txHash); err != nil {
		return nil, fmt.Errorf("gasbank: storage error: %w", err)
	} else if ok {
		return prior, nil
	}

	acct, err := l.getAccount(principal)
	if err != nil {
		return nil, err
	}
	fee := CalculateFee(amount, acct.FeeModel, l.DynamicFeeOracle)
	required := amount + fee
	availableCredit := acct.CreditLimit - acct.UsedCredit
	if acct.Balance+availableCredit < required {
		return nil, ErrInsufficientFunds
	}
	fromBalance := required
	if fromBalance > acct.Balance {
		fromBalance = acct.Balance
	}
	fromCredit := required - fromBalance
	acct.Balance -= fromBalance
	acct.UsedCredit += fromCredit

	entry, err := l.appendEntry(principal, acct, EntryGasPayment, amount, fee, "", txHash)
	if err != nil {
		return nil, err
	}
	l.log.Debug("pay_gas", "principal", principal, "amount", amount, "fee", fee, "from_credit", fromCredit)
	return entry, nil
}

// Refund credits principal for a prior gas payment (e.g. an over-charge
// correction). Not used by the happy-path callback flow (§4.7 explicitly
// specifies no rollback on gas_exhausted) but retained for administrative
// corrections.
func (l *Ledger) Refund(principal string, amount uint64, reference string) (*LedgerEntry, error) {
	lock := l.lockFor(principal)
	lock.Lock()
	defer lock.Unlock()

	acct, err := l.getAccount(principal)
	if err != nil {
		return nil, err
	}
	acct.Balance += amount
	return l.appendEntry(principal, acct, EntryRefund, amount, 0, reference, "")
}

// GetAccount returns the current GasAccount for principal.
func (l *Ledger) GetAccount(principal string) (*GasAccount, error) {
	return l.getAccount(principal)
}

// ListEntries returns the ledger entries for principal between [startSeq, endSeq).
func (l *Ledger) ListEntries(principal string, startSeq, endSeq uint64) ([]*LedgerEntry, error) {
	res, err := l.store.Scan(TableLedger, kvstore.ScanOptions{
		Start: ledgerKey(principal, startSeq),
		End:   ledgerKey(principal, endSeq),
	})
	if err != nil {
		return nil, err
	}
	entries := make([]*LedgerEntry, 0, len(res.Pairs))
	for _, kv := range res.Pairs {
		e, err := unmarshalEntry(kv.Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SetContractAccountMapping records that invocations of contractHash are
// sponsored by principal. Single-writer: the mapping is simply overwritten.
func (l *Ledger) SetContractAccountMapping(contractHash, principal string) error {
	return l.store.Put(TableContractMap, []byte(contractHash), []byte(principal), kvstore.PutOptions{})
}

// GetAccountForContract resolves the sponsor principal for contractHash.
func (l *Ledger) GetAccountForContract(contractHash string) (string, error) {
	raw, err := l.store.Get(TableContractMap, []byte(contractHash))
	if err == kvstore.ErrNoSuchKey {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
