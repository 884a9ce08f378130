package application

import (
	"context"
	"errors"
	"sync"

	"nativebridge/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

// ether returns v * 1e18.
func ether(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), domain.Precision)
}

type mockOracle struct {
	price domain.Price
	err   error
	calls int
}

func (m *mockOracle) LatestPrice(ctx context.Context) (domain.Price, error) {
	m.calls++
	if m.err != nil {
		return domain.Price{}, m.err
	}
	return m.price, nil
}

type mockInsurance struct {
	balance      *uint256.Int
	deposits     []*uint256.Int
	reversals    []*uint256.Int
	liquidations []*uint256.Int
	claims       []domain.ReorgClaim
	decline      bool
	depositErr   error
	liquidateErr error
}

func (m *mockInsurance) Balance(ctx context.Context) (*uint256.Int, error) {
	return domain.Clone(m.balance), nil
}

func (m *mockInsurance) Deposit(ctx context.Context, amount *uint256.Int) error {
	if m.depositErr != nil {
		return m.depositErr
	}
	m.deposits = append(m.deposits, amount)
	m.balance = new(uint256.Int).Add(domain.Clone(m.balance), amount)
	return nil
}

func (m *mockInsurance) ReverseDeposit(ctx context.Context, amount *uint256.Int) error {
	m.reversals = append(m.reversals, amount)
	m.balance = new(uint256.Int).Sub(domain.Clone(m.balance), amount)
	return nil
}

func (m *mockInsurance) LiquidateForReorg(ctx context.Context, claim domain.ReorgClaim) (bool, error) {
	if m.liquidateErr != nil {
		return false, m.liquidateErr
	}
	m.liquidations = append(m.liquidations, claim.Native)
	m.claims = append(m.claims, claim)
	if m.decline {
		return false, nil
	}
	return true, nil
}

// deposited is the net of deposits and reversals.
func (m *mockInsurance) deposited() *uint256.Int {
	total := domain.Zero()
	for _, d := range m.deposits {
		total.Add(total, d)
	}
	for _, r := range m.reversals {
		total.Sub(total, r)
	}
	return total
}

type dispatched struct {
	destination uint32
	recipient   common.Hash
	body        []byte
	value       *uint256.Int
}

type mockTransport struct {
	quote       *uint256.Int
	dispatchErr error
	sent        []dispatched
}

func (m *mockTransport) Quote(ctx context.Context, destination uint32, recipient common.Hash, body []byte) (*uint256.Int, error) {
	return domain.Clone(m.quote), nil
}

func (m *mockTransport) Dispatch(ctx context.Context, destination uint32, recipient common.Hash, body []byte, value *uint256.Int) (common.Hash, error) {
	if m.dispatchErr != nil {
		return common.Hash{}, m.dispatchErr
	}
	m.sent = append(m.sent, dispatched{destination: destination, recipient: recipient, body: body, value: value})
	return common.BigToHash(uint256.NewInt(uint64(len(m.sent))).ToBig()), nil
}

type payment struct {
	id     common.Hash
	to     common.Address
	amount *uint256.Int
}

type mockPayer struct {
	payments []payment
	err      error
	onPay    func(ctx context.Context) error
}

func (m *mockPayer) Pay(ctx context.Context, id common.Hash, to common.Address, amount *uint256.Int) error {
	if m.onPay != nil {
		if err := m.onPay(ctx); err != nil {
			return err
		}
	}
	if m.err != nil {
		return m.err
	}
	m.payments = append(m.payments, payment{id: id, to: to, amount: amount})
	return nil
}

func (m *mockPayer) paidTo(addr common.Address) *uint256.Int {
	total := domain.Zero()
	for _, p := range m.payments {
		if p.to == addr {
			total.Add(total, p.amount)
		}
	}
	return total
}

type mockHeights struct {
	height uint64
	err    error
}

func (m *mockHeights) LatestHeight(ctx context.Context) (uint64, error) {
	return m.height, m.err
}

type mockEvents struct {
	events []domain.Event
	err    error
}

func (m *mockEvents) Publish(ctx context.Context, events []domain.Event) error {
	m.events = append(m.events, events...)
	return m.err
}

func (m *mockEvents) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type mockStore struct {
	snapshot domain.Snapshot
	applied  []Changes
	// err fails the write before delivery; commitErr fails it after.
	err       error
	commitErr error
}

func (m *mockStore) Load(ctx context.Context) (domain.Snapshot, error) {
	return m.snapshot, nil
}

func (m *mockStore) Apply(ctx context.Context, changes Changes, deliver func(context.Context) error) error {
	if m.err != nil {
		return m.err
	}
	if deliver != nil {
		if err := deliver(ctx); err != nil {
			return err
		}
	}
	if m.commitErr != nil {
		return m.commitErr
	}
	m.applied = append(m.applied, changes)
	return nil
}

// runAll runs every deferred effect the way a commit would.
func runAll(ctx context.Context, u *unitOfWork) error {
	if err := u.runReversible(ctx); err != nil {
		return err
	}
	return u.runExternal(ctx)
}

type mockObserver struct {
	mu      sync.Mutex
	ops     map[string]int
	failed  map[string]int
	reorgs  map[bool]int
	pending int
}

func newMockObserver() *mockObserver {
	return &mockObserver{ops: map[string]int{}, failed: map[string]int{}, reorgs: map[bool]int{}}
}

func (m *mockObserver) OnOperation(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
	if err != nil {
		m.failed[op]++
	}
}

func (m *mockObserver) OnPending(count int, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = count
}

func (m *mockObserver) OnReorg(origin uint32, compensated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reorgs[compensated]++
}

var errBoom = errors.New("boom")
