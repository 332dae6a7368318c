package persistence

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"

	"SettleLedger/internal/ledger"
	"SettleLedger/internal/state"
)

var errReadOnly = errors.New("write in read-only transaction")

// memData is one version of the in-memory database. Stored records are
// never mutated in place: getters hand out copies and savers store copies,
// so cloning the maps is enough to snapshot a version.
type memData struct {
	nextID int64

	trades          map[int64]*state.Trade
	offers          map[int64]*state.Offer
	pools           map[int64]*state.AmmPool
	positions       map[int64]*state.AmmPosition
	orders          map[int64]*state.AmmOrder
	ticks           map[int64]*state.Tick
	locks           map[int64]*state.BalanceLock
	coinWithdrawals map[int64]*state.CoinWithdrawal
	escrows         map[int64]*state.MerchantEscrow

	coinAccounts map[int64]*ledger.CoinAccount
	fiatAccounts map[int64]*ledger.FiatAccount

	fiatDeposits    map[int64]*ledger.FiatDeposit
	fiatWithdrawals map[int64]*ledger.FiatWithdrawal
	escrowOps       map[int64]*ledger.EscrowOperation
	coinTxs         map[int64]*ledger.CoinTransaction
	fiatTxs         map[int64]*ledger.FiatTransaction
}

func newMemData() *memData {
	return &memData{
		trades:          map[int64]*state.Trade{},
		offers:          map[int64]*state.Offer{},
		pools:           map[int64]*state.AmmPool{},
		positions:       map[int64]*state.AmmPosition{},
		orders:          map[int64]*state.AmmOrder{},
		ticks:           map[int64]*state.Tick{},
		locks:           map[int64]*state.BalanceLock{},
		coinWithdrawals: map[int64]*state.CoinWithdrawal{},
		escrows:         map[int64]*state.MerchantEscrow{},
		coinAccounts:    map[int64]*ledger.CoinAccount{},
		fiatAccounts:    map[int64]*ledger.FiatAccount{},
		fiatDeposits:    map[int64]*ledger.FiatDeposit{},
		fiatWithdrawals: map[int64]*ledger.FiatWithdrawal{},
		escrowOps:       map[int64]*ledger.EscrowOperation{},
		coinTxs:         map[int64]*ledger.CoinTransaction{},
		fiatTxs:         map[int64]*ledger.FiatTransaction{},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		nextID:          d.nextID,
		trades:          maps.Clone(d.trades),
		offers:          maps.Clone(d.offers),
		pools:           maps.Clone(d.pools),
		positions:       maps.Clone(d.positions),
		orders:          maps.Clone(d.orders),
		ticks:           maps.Clone(d.ticks),
		locks:           maps.Clone(d.locks),
		coinWithdrawals: maps.Clone(d.coinWithdrawals),
		escrows:         maps.Clone(d.escrows),
		coinAccounts:    maps.Clone(d.coinAccounts),
		fiatAccounts:    maps.Clone(d.fiatAccounts),
		fiatDeposits:    maps.Clone(d.fiatDeposits),
		fiatWithdrawals: maps.Clone(d.fiatWithdrawals),
		escrowOps:       maps.Clone(d.escrowOps),
		coinTxs:         maps.Clone(d.coinTxs),
		fiatTxs:         maps.Clone(d.fiatTxs),
	}
}

func (d *memData) id(current int64) int64 {
	if current > d.nextID {
		d.nextID = current
		return current
	}
	if current > 0 {
		return current
	}
	d.nextID++
	return d.nextID
}

// MemoryStore is an in-memory Store with real commit/rollback semantics.
// Transactions are serialized.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.data.clone()
	if err := fn(&memTx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{data: s.data, readOnly: true})
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- seeding, used by tests and local tooling ---

func (s *MemoryStore) PutTrade(t state.Trade) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.data.id(t.ID)
	s.data.trades[t.ID] = cloneTrade(&t)
	return t.ID
}

func (s *MemoryStore) PutOffer(o state.Offer) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.data.id(o.ID)
	s.data.offers[o.ID] = cloneOffer(&o)
	return o.ID
}

func (s *MemoryStore) PutAmmPool(p state.AmmPool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.data.id(p.ID)
	s.data.pools[p.ID] = &p
	return p.ID
}

func (s *MemoryStore) PutAmmPosition(p state.AmmPosition) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.data.id(p.ID)
	s.data.positions[p.ID] = &p
	return p.ID
}

func (s *MemoryStore) PutAmmOrder(o state.AmmOrder) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.data.id(o.ID)
	s.data.orders[o.ID] = &o
	return o.ID
}

func (s *MemoryStore) PutTick(t state.Tick) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.data.id(t.ID)
	s.data.ticks[t.ID] = &t
	return t.ID
}

func (s *MemoryStore) PutBalanceLock(l state.BalanceLock) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.data.id(l.ID)
	s.data.locks[l.ID] = cloneLock(&l)
	return l.ID
}

func (s *MemoryStore) PutCoinWithdrawal(w state.CoinWithdrawal) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.ID = s.data.id(w.ID)
	s.data.coinWithdrawals[w.ID] = &w
	return w.ID
}

func (s *MemoryStore) PutMerchantEscrow(e state.MerchantEscrow) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.data.id(e.ID)
	s.data.escrows[e.ID] = &e
	return e.ID
}

func (s *MemoryStore) PutCoinAccount(a ledger.CoinAccount) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.data.id(a.ID)
	s.data.coinAccounts[a.ID] = &a
	return a.ID
}

func (s *MemoryStore) PutFiatAccount(a ledger.FiatAccount) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.data.id(a.ID)
	s.data.fiatAccounts[a.ID] = &a
	return a.ID
}

// CoinTransactions returns every committed coin transaction ordered by id.
func (s *MemoryStore) CoinTransactions() []ledger.CoinTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.coinTxs, func(t *ledger.CoinTransaction) int64 { return t.ID })
}

func (s *MemoryStore) FiatTransactions() []ledger.FiatTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.fiatTxs, func(t *ledger.FiatTransaction) int64 { return t.ID })
}

func (s *MemoryStore) EscrowOperations() []ledger.EscrowOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.escrowOps, func(op *ledger.EscrowOperation) int64 { return op.ID })
}

func (s *MemoryStore) FiatDeposits() []ledger.FiatDeposit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.fiatDeposits, func(d *ledger.FiatDeposit) int64 { return d.ID })
}

func (s *MemoryStore) FiatWithdrawals() []ledger.FiatWithdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.data.fiatWithdrawals, func(w *ledger.FiatWithdrawal) int64 { return w.ID })
}

func (s *MemoryStore) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.trades)
}

func sortedValues[T any](m map[int64]*T, id func(*T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return id(&out[i]) < id(&out[j]) })
	return out
}

func cloneTrade(t *state.Trade) *state.Trade {
	c := *t
	return &c
}

func cloneOffer(o *state.Offer) *state.Offer {
	c := *o
	c.PaymentMethodIDs = slices.Clone(o.PaymentMethodIDs)
	return &c
}

func cloneLock(l *state.BalanceLock) *state.BalanceLock {
	c := *l
	c.LockedBalances = maps.Clone(l.LockedBalances)
	return &c
}

func clonePtr[T any](v *T) *T {
	c := *v
	return &c
}

// memTx operates on a private copy of the store; MemoryStore.InTx swaps
// it in on success.
type memTx struct {
	data     *memData
	readOnly bool
}

func (tx *memTx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func find[T any](m map[int64]*T, match func(*T) bool) (*T, bool) {
	for _, v := range m {
		if match(v) {
			return v, true
		}
	}
	return nil, false
}

// --- Trade ---

func (tx *memTx) GetTrade(_ context.Context, id int64) (*state.Trade, error) {
	t, ok := tx.data.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrade(t), nil
}

func (tx *memTx) GetTradeByEngineID(_ context.Context, engineTradeID string) (*state.Trade, error) {
	if engineTradeID == "" {
		return nil, ErrNotFound
	}
	t, ok := find(tx.data.trades, func(t *state.Trade) bool { return t.EngineTradeID == engineTradeID })
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrade(t), nil
}

func (tx *memTx) InsertTrade(_ context.Context, t *state.Trade) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if t.EngineTradeID != "" {
		if _, dup := find(tx.data.trades, func(o *state.Trade) bool { return o.EngineTradeID == t.EngineTradeID }); dup {
			return ErrDuplicateKey
		}
	}
	if _, dup := tx.data.trades[t.ID]; dup && t.ID != 0 {
		return ErrDuplicateKey
	}
	t.ID = tx.data.id(t.ID)
	tx.data.trades[t.ID] = cloneTrade(t)
	return nil
}

func (tx *memTx) SaveTrade(_ context.Context, t *state.Trade) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.trades[t.ID]; !ok {
		return ErrNotFound
	}
	tx.data.trades[t.ID] = cloneTrade(t)
	return nil
}

// --- Offer ---

func (tx *memTx) GetOffer(_ context.Context, id int64) (*state.Offer, error) {
	o, ok := tx.data.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOffer(o), nil
}

func (tx *memTx) SaveOffer(_ context.Context, o *state.Offer) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.offers[o.ID]; !ok {
		return ErrNotFound
	}
	tx.data.offers[o.ID] = cloneOffer(o)
	return nil
}

// --- AmmPool ---

func (tx *memTx) GetAmmPool(_ context.Context, id int64) (*state.AmmPool, error) {
	p, ok := tx.data.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(p), nil
}

func (tx *memTx) GetAmmPoolByPair(_ context.Context, pair string) (*state.AmmPool, error) {
	p, ok := find(tx.data.pools, func(p *state.AmmPool) bool { return p.Pair == pair })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(p), nil
}

func (tx *memTx) SaveAmmPool(_ context.Context, p *state.AmmPool) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.pools[p.ID]; !ok {
		return ErrNotFound
	}
	tx.data.pools[p.ID] = clonePtr(p)
	return nil
}

// --- AmmPosition ---

func (tx *memTx) GetAmmPosition(_ context.Context, id int64) (*state.AmmPosition, error) {
	p, ok := tx.data.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(p), nil
}

func (tx *memTx) GetAmmPositionByIdentifier(_ context.Context, identifier string) (*state.AmmPosition, error) {
	p, ok := find(tx.data.positions, func(p *state.AmmPosition) bool { return p.Identifier == identifier })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(p), nil
}

func (tx *memTx) SaveAmmPosition(_ context.Context, p *state.AmmPosition) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.positions[p.ID]; !ok {
		return ErrNotFound
	}
	tx.data.positions[p.ID] = clonePtr(p)
	return nil
}

// --- AmmOrder ---

func (tx *memTx) GetAmmOrder(_ context.Context, id int64) (*state.AmmOrder, error) {
	o, ok := tx.data.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(o), nil
}

func (tx *memTx) GetAmmOrderByIdentifier(_ context.Context, identifier string) (*state.AmmOrder, error) {
	o, ok := find(tx.data.orders, func(o *state.AmmOrder) bool { return o.Identifier == identifier })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(o), nil
}

func (tx *memTx) SaveAmmOrder(_ context.Context, o *state.AmmOrder) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.orders[o.ID]; !ok {
		return ErrNotFound
	}
	tx.data.orders[o.ID] = clonePtr(o)
	return nil
}

// --- Tick ---

func (tx *memTx) GetTick(_ context.Context, id int64) (*state.Tick, error) {
	t, ok := tx.data.ticks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(t), nil
}

func (tx *memTx) GetTickByKey(_ context.Context, tickKey string) (*state.Tick, error) {
	t, ok := find(tx.data.ticks, func(t *state.Tick) bool { return t.TickKey == tickKey })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(t), nil
}

func (tx *memTx) InsertTick(_ context.Context, t *state.Tick) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, dup := find(tx.data.ticks, func(o *state.Tick) bool { return o.TickKey == t.TickKey }); dup {
		return ErrDuplicateKey
	}
	t.ID = tx.data.id(t.ID)
	tx.data.ticks[t.ID] = clonePtr(t)
	return nil
}

func (tx *memTx) SaveTick(_ context.Context, t *state.Tick) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.ticks[t.ID]; !ok {
		return ErrNotFound
	}
	tx.data.ticks[t.ID] = clonePtr(t)
	return nil
}

// --- BalanceLock ---

func (tx *memTx) GetBalanceLock(_ context.Context, id int64) (*state.BalanceLock, error) {
	l, ok := tx.data.locks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLock(l), nil
}

func (tx *memTx) SaveBalanceLock(_ context.Context, l *state.BalanceLock) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.locks[l.ID]; !ok {
		return ErrNotFound
	}
	tx.data.locks[l.ID] = cloneLock(l)
	return nil
}

// --- CoinWithdrawal ---

func (tx *memTx) GetCoinWithdrawal(_ context.Context, id int64) (*state.CoinWithdrawal, error) {
	w, ok := tx.data.coinWithdrawals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(w), nil
}

func (tx *memTx) SaveCoinWithdrawal(_ context.Context, w *state.CoinWithdrawal) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.coinWithdrawals[w.ID]; !ok {
		return ErrNotFound
	}
	tx.data.coinWithdrawals[w.ID] = clonePtr(w)
	return nil
}

// --- MerchantEscrow ---

func (tx *memTx) GetMerchantEscrow(_ context.Context, id int64) (*state.MerchantEscrow, error) {
	e, ok := tx.data.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(e), nil
}

func (tx *memTx) SaveMerchantEscrow(_ context.Context, e *state.MerchantEscrow) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.escrows[e.ID]; !ok {
		return ErrNotFound
	}
	tx.data.escrows[e.ID] = clonePtr(e)
	return nil
}

// --- accounts ---

func (tx *memTx) GetCoinAccount(_ context.Context, id int64) (*ledger.CoinAccount, error) {
	a, ok := tx.data.coinAccounts[id]
	if !ok {
		return nil, nil
	}
	return clonePtr(a), nil
}

func (tx *memTx) GetFiatAccount(_ context.Context, id int64) (*ledger.FiatAccount, error) {
	a, ok := tx.data.fiatAccounts[id]
	if !ok {
		return nil, nil
	}
	return clonePtr(a), nil
}

func (tx *memTx) SaveCoinAccount(_ context.Context, a *ledger.CoinAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.coinAccounts[a.ID]; !ok {
		return ErrNotFound
	}
	tx.data.coinAccounts[a.ID] = clonePtr(a)
	return nil
}

func (tx *memTx) SaveFiatAccount(_ context.Context, a *ledger.FiatAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.data.fiatAccounts[a.ID]; !ok {
		return ErrNotFound
	}
	tx.data.fiatAccounts[a.ID] = clonePtr(a)
	return nil
}

// --- ledger entries ---

func (tx *memTx) InsertFiatDeposit(_ context.Context, d *ledger.FiatDeposit) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, dup := find(tx.data.fiatDeposits, func(o *ledger.FiatDeposit) bool { return o.TradeID == d.TradeID }); dup {
		return ErrDuplicateKey
	}
	d.ID = tx.data.id(0)
	tx.data.fiatDeposits[d.ID] = clonePtr(d)
	return nil
}

func (tx *memTx) InsertFiatWithdrawal(_ context.Context, w *ledger.FiatWithdrawal) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, dup := find(tx.data.fiatWithdrawals, func(o *ledger.FiatWithdrawal) bool { return o.TradeID == w.TradeID }); dup {
		return ErrDuplicateKey
	}
	w.ID = tx.data.id(0)
	tx.data.fiatWithdrawals[w.ID] = clonePtr(w)
	return nil
}

func (tx *memTx) InsertEscrowOperation(_ context.Context, op *ledger.EscrowOperation) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, dup := find(tx.data.escrowOps, func(o *ledger.EscrowOperation) bool {
		return o.EscrowID == op.EscrowID && o.Type == op.Type
	}); dup {
		return ErrDuplicateKey
	}
	op.ID = tx.data.id(0)
	tx.data.escrowOps[op.ID] = clonePtr(op)
	return nil
}

func (tx *memTx) InsertCoinTransaction(_ context.Context, t *ledger.CoinTransaction) error {
	if err := tx.writable(); err != nil {
		return err
	}
	t.ID = tx.data.id(0)
	tx.data.coinTxs[t.ID] = clonePtr(t)
	return nil
}

func (tx *memTx) InsertFiatTransaction(_ context.Context, t *ledger.FiatTransaction) error {
	if err := tx.writable(); err != nil {
		return err
	}
	t.ID = tx.data.id(0)
	tx.data.fiatTxs[t.ID] = clonePtr(t)
	return nil
}

func (tx *memTx) GetEscrowOperation(_ context.Context, escrowID int64, opType ledger.EscrowOperationType) (*ledger.EscrowOperation, error) {
	op, ok := find(tx.data.escrowOps, func(o *ledger.EscrowOperation) bool {
		return o.EscrowID == escrowID && o.Type == opType
	})
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(op), nil
}

func (tx *memTx) GetFiatDepositByTrade(_ context.Context, tradeID int64) (*ledger.FiatDeposit, error) {
	d, ok := find(tx.data.fiatDeposits, func(o *ledger.FiatDeposit) bool { return o.TradeID == tradeID })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(d), nil
}

func (tx *memTx) GetFiatWithdrawalByTrade(_ context.Context, tradeID int64) (*ledger.FiatWithdrawal, error) {
	w, ok := find(tx.data.fiatWithdrawals, func(o *ledger.FiatWithdrawal) bool { return o.TradeID == tradeID })
	if !ok {
		return nil, ErrNotFound
	}
	return clonePtr(w), nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)
