package lending

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"lendmarket/crypto"
	"lendmarket/storage"
)

// Bank moves token balances between principals.
type Bank interface {
	Balance(asset string, owner crypto.Address) (*big.Int, error)
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
}

// State is the persistence surface used by the engine. Getters return nil
// (or zero values) without error when a record is absent.
type State interface {
	Bank
	Mint(asset string, to crypto.Address, amount *big.Int) error

	Market() (*Market, error)
	PutMarket(market *Market) error
	Governance() (*GovernanceState, error)
	PutGovernance(gov *GovernanceState) error
	InterestParams() (*InterestRateParams, error)
	PutInterestParams(params *InterestRateParams) error
	RewardParams() (*StakingRewardParams, error)
	PutRewardParams(params *StakingRewardParams) error

	Collateral(asset string) (*CollateralConfig, error)
	PutCollateral(cfg *CollateralConfig) error
	Collaterals() ([]*CollateralConfig, error)

	Position(owner crypto.Address) (*Position, error)
	PutPosition(owner crypto.Address, position *Position) error
	Positions(fn func(owner crypto.Address, position *Position) error) error

	LPBalance(owner crypto.Address) (*big.Int, error)
	PutLPBalance(owner crypto.Address, shares *big.Int) error

	Bucket(resource CapResource) (*CapBucket, error)
	PutBucket(resource CapResource, bucket *CapBucket) error

	StakingPool() (*StakingPool, error)
	PutStakingPool(pool *StakingPool) error
	StakeAccount(owner crypto.Address) (*StakeAccount, error)
	PutStakeAccount(owner crypto.Address, account *StakeAccount) error

	Price(asset string) (*Price, error)
	PutPrice(asset string, price *Price) error

	// Snapshot marks the write journal; RevertToSnapshot undoes every write
	// made after the mark.
	Snapshot() int
	RevertToSnapshot(id int)
}

var (
	keyMarket          = []byte("lending/market")
	keyGovernance      = []byte("lending/governance")
	keyInterestParams  = []byte("lending/irm")
	keyRewardParams    = []byte("lending/reward")
	keyStakingPool     = []byte("lending/staking/pool")
	prefixCollateral   = "lending/collateral/"
	prefixPosition     = "lending/position/"
	prefixLPBalance    = "lending/lp/"
	prefixBucket       = "lending/cap/"
	prefixStakeAccount = "lending/staking/account/"
	prefixPrice        = "lending/price/"
	prefixBank         = "bank/"
)

func collateralKey(asset string) []byte { return []byte(prefixCollateral + asset) }
func positionKey(owner crypto.Address) []byte {
	return []byte(prefixPosition + owner.String())
}
func lpKey(owner crypto.Address) []byte     { return []byte(prefixLPBalance + owner.String()) }
func bucketKey(resource CapResource) []byte { return []byte(prefixBucket + string(resource)) }
func stakeKey(owner crypto.Address) []byte  { return []byte(prefixStakeAccount + owner.String()) }
func priceKey(asset string) []byte          { return []byte(prefixPrice + asset) }
func bankKey(asset string, owner crypto.Address) []byte {
	return []byte(prefixBank + asset + "/" + owner.String())
}

// Store persists market state in a key/value database. Every mutation runs
// inside Update so the writes of one call land in a single batch.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

// NewStore wraps a database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Update runs fn against a transactional view and commits its writes only if
// fn returns nil. Calls are serialized.
func (s *Store) Update(fn func(State) error) error {
	if s == nil || s.db == nil {
		return errors.New("lending: store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newKVTx(s.db)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn against a throwaway view; writes are discarded.
func (s *Store) View(fn func(State) error) error {
	if s == nil || s.db == nil {
		return errors.New("lending: store not initialised")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(newKVTx(s.db))
}

type journalEntry struct {
	key     string
	prev    []byte
	hadPrev bool
}

// kvTx buffers writes over the database. A nil value in writes marks a
// deletion.
type kvTx struct {
	db      storage.Database
	writes  map[string][]byte
	journal []journalEntry
}

func newKVTx(db storage.Database) *kvTx {
	return &kvTx{db: db, writes: make(map[string][]byte)}
}

func (t *kvTx) Snapshot() int { return len(t.journal) }

func (t *kvTx) RevertToSnapshot(id int) {
	for i := len(t.journal) - 1; i >= id && i >= 0; i-- {
		entry := t.journal[i]
		if entry.hadPrev {
			t.writes[entry.key] = entry.prev
		} else {
			delete(t.writes, entry.key)
		}
	}
	if id < len(t.journal) {
		t.journal = t.journal[:id]
	}
}

func (t *kvTx) record(key string) {
	prev, ok := t.writes[key]
	t.journal = append(t.journal, journalEntry{key: key, prev: prev, hadPrev: ok})
}

func (t *kvTx) get(key []byte) ([]byte, bool, error) {
	if value, ok := t.writes[string(key)]; ok {
		return value, value != nil, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *kvTx) put(key []byte, value []byte) {
	t.record(string(key))
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = value
}

func (t *kvTx) del(key []byte) {
	t.record(string(key))
	t.writes[string(key)] = nil
}

func (t *kvTx) getRLP(key []byte, out interface{}) (bool, error) {
	raw, ok, err := t.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (t *kvTx) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.put(key, encoded)
	return nil
}

// iterate merges the database view with buffered writes for a prefix.
func (t *kvTx) iterate(prefix string, fn func(key string, value []byte) error) error {
	merged := make(map[string][]byte)
	err := t.db.Iterate([]byte(prefix), func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	for key, value := range t.writes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key, merged[key]); err != nil {
			return err
		}
	}
	return nil
}

func (t *kvTx) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	batch := t.db.NewBatch()
	keys := make([]string, 0, len(t.writes))
	for key := range t.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := t.writes[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("lending: commit: %w", err)
	}
	t.writes = make(map[string][]byte)
	t.journal = nil
	return nil
}

// --- bank ---

func (t *kvTx) Balance(asset string, owner crypto.Address) (*big.Int, error) {
	raw, ok, err := t.get(bankKey(asset, owner))
	if err != nil || !ok {
		return new(big.Int), err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (t *kvTx) setBalance(asset string, owner crypto.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		t.del(bankKey(asset, owner))
		return
	}
	t.put(bankKey(asset, owner), amount.Bytes())
}

func (t *kvTx) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 || from.Equal(to) {
		return nil
	}
	fromBal, err := t.Balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := t.Balance(asset, to)
	if err != nil {
		return err
	}
	t.setBalance(asset, from, fromBal.Sub(fromBal, amount))
	t.setBalance(asset, to, toBal.Add(toBal, amount))
	return nil
}

func (t *kvTx) Mint(asset string, to crypto.Address, amount *big.Int) error {
	if !isPositive(amount) {
		return ErrZeroAmount
	}
	bal, err := t.Balance(asset, to)
	if err != nil {
		return err
	}
	t.setBalance(asset, to, bal.Add(bal, amount))
	return nil
}

// --- market records ---

func (t *kvTx) Market() (*Market, error) {
	var market Market
	ok, err := t.getRLP(keyMarket, &market)
	if err != nil || !ok {
		return nil, err
	}
	market.normalize()
	return &market, nil
}

func (t *kvTx) PutMarket(market *Market) error {
	if market == nil {
		return errors.New("lending: nil market")
	}
	return t.putRLP(keyMarket, market)
}

func (t *kvTx) Governance() (*GovernanceState, error) {
	var gov GovernanceState
	ok, err := t.getRLP(keyGovernance, &gov)
	if err != nil || !ok {
		return nil, err
	}
	return &gov, nil
}

func (t *kvTx) PutGovernance(gov *GovernanceState) error {
	return t.putRLP(keyGovernance, gov)
}

func (t *kvTx) InterestParams() (*InterestRateParams, error) {
	var params InterestRateParams
	ok, err := t.getRLP(keyInterestParams, &params)
	if err != nil || !ok {
		return nil, err
	}
	return &params, nil
}

func (t *kvTx) PutInterestParams(params *InterestRateParams) error {
	return t.putRLP(keyInterestParams, params)
}

// storedRewardParams carries the signed slopes as decimal strings; rlp has no
// signed integers.
type storedRewardParams struct {
	Slope1 string
	Slope2 string
	Kink   string
	Base   string
}

func (t *kvTx) RewardParams() (*StakingRewardParams, error) {
	var stored storedRewardParams
	ok, err := t.getRLP(keyRewardParams, &stored)
	if err != nil || !ok {
		return nil, err
	}
	values := make([]int64, 4)
	for i, raw := range []string{stored.Slope1, stored.Slope2, stored.Kink, stored.Base} {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode reward params: %w", err)
		}
		values[i] = v
	}
	return &StakingRewardParams{Slope1: values[0], Slope2: values[1], Kink: values[2], Base: values[3]}, nil
}

func (t *kvTx) PutRewardParams(params *StakingRewardParams) error {
	return t.putRLP(keyRewardParams, storedRewardParams{
		Slope1: strconv.FormatInt(params.Slope1, 10),
		Slope2: strconv.FormatInt(params.Slope2, 10),
		Kink:   strconv.FormatInt(params.Kink, 10),
		Base:   strconv.FormatInt(params.Base, 10),
	})
}

func (t *kvTx) Collateral(asset string) (*CollateralConfig, error) {
	var cfg CollateralConfig
	ok, err := t.getRLP(collateralKey(asset), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	cfg.TotalDeposited = clone(cfg.TotalDeposited)
	return &cfg, nil
}

func (t *kvTx) PutCollateral(cfg *CollateralConfig) error {
	return t.putRLP(collateralKey(cfg.Asset), cfg)
}

func (t *kvTx) Collaterals() ([]*CollateralConfig, error) {
	var out []*CollateralConfig
	err := t.iterate(prefixCollateral, func(_ string, value []byte) error {
		var cfg CollateralConfig
		if err := rlp.DecodeBytes(value, &cfg); err != nil {
			return err
		}
		cfg.TotalDeposited = clone(cfg.TotalDeposited)
		out = append(out, &cfg)
		return nil
	})
	return out, err
}

func (t *kvTx) Position(owner crypto.Address) (*Position, error) {
	var position Position
	ok, err := t.getRLP(positionKey(owner), &position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewPosition(), nil
	}
	position.DebtShares = clone(position.DebtShares)
	return &position, nil
}

func (t *kvTx) PutPosition(owner crypto.Address, position *Position) error {
	stored := position.Clone()
	stored.compact()
	if stored.IsEmpty() {
		t.del(positionKey(owner))
		return nil
	}
	return t.putRLP(positionKey(owner), stored)
}

func (t *kvTx) Positions(fn func(owner crypto.Address, position *Position) error) error {
	return t.iterate(prefixPosition, func(key string, value []byte) error {
		owner, err := crypto.DecodeAddress(strings.TrimPrefix(key, prefixPosition))
		if err != nil {
			return err
		}
		var position Position
		if err := rlp.DecodeBytes(value, &position); err != nil {
			return err
		}
		position.DebtShares = clone(position.DebtShares)
		return fn(owner, &position)
	})
}

func (t *kvTx) LPBalance(owner crypto.Address) (*big.Int, error) {
	raw, ok, err := t.get(lpKey(owner))
	if err != nil || !ok {
		return new(big.Int), err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (t *kvTx) PutLPBalance(owner crypto.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() == 0 {
		t.del(lpKey(owner))
		return nil
	}
	if shares.Sign() < 0 {
		return errors.New("lending: negative lp balance")
	}
	t.put(lpKey(owner), shares.Bytes())
	return nil
}

func (t *kvTx) Bucket(resource CapResource) (*CapBucket, error) {
	var bucket CapBucket
	ok, err := t.getRLP(bucketKey(resource), &bucket)
	if err != nil || !ok {
		return nil, err
	}
	bucket.Available = clone(bucket.Available)
	return &bucket, nil
}

func (t *kvTx) PutBucket(resource CapResource, bucket *CapBucket) error {
	return t.putRLP(bucketKey(resource), bucket)
}

func (t *kvTx) StakingPool() (*StakingPool, error) {
	var pool StakingPool
	ok, err := t.getRLP(keyStakingPool, &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &StakingPool{ActiveShares: new(big.Int), QueuedShares: new(big.Int)}, nil
	}
	pool.ActiveShares = clone(pool.ActiveShares)
	pool.QueuedShares = clone(pool.QueuedShares)
	return &pool, nil
}

func (t *kvTx) PutStakingPool(pool *StakingPool) error {
	return t.putRLP(keyStakingPool, pool)
}

func (t *kvTx) StakeAccount(owner crypto.Address) (*StakeAccount, error) {
	var account StakeAccount
	ok, err := t.getRLP(stakeKey(owner), &account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &StakeAccount{Staked: new(big.Int)}, nil
	}
	account.Staked = clone(account.Staked)
	return &account, nil
}

func (t *kvTx) PutStakeAccount(owner crypto.Address, account *StakeAccount) error {
	if account.Staked.Sign() == 0 && len(account.Requests) == 0 {
		t.del(stakeKey(owner))
		return nil
	}
	return t.putRLP(stakeKey(owner), account)
}

func (t *kvTx) Price(asset string) (*Price, error) {
	var price Price
	ok, err := t.getRLP(priceKey(asset), &price)
	if err != nil || !ok {
		return nil, err
	}
	price.Value = clone(price.Value)
	price.Confidence = clone(price.Confidence)
	return &price, nil
}

func (t *kvTx) PutPrice(asset string, price *Price) error {
	return t.putRLP(priceKey(asset), price)
}

// Digest encodes the market-level records for snapshot hashing.
func Digest(state State) ([]byte, error) {
	market, err := state.Market()
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, nil
	}
	pool, err := state.StakingPool()
	if err != nil {
		return nil, err
	}
	collaterals, err := state.Collaterals()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, item := range []interface{}{market, pool, collaterals} {
		if err := rlp.Encode(&buf, item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
