package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"nativebridge/internal/domain"
	"nativebridge/internal/streaming"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are the external collaborators of the controller. Events, Store
// and Observer are optional.
type Dependencies struct {
	Oracle    PriceOracle
	Insurance InsuranceFund
	Transport Transport
	Payer     Payer
	Heights   HeightSource
	Events    EventSink
	Store     Store
	Observer  Observer
}

type ControllerConfig struct {
	LocalDomain    uint32
	FinalityWindow uint64
	OutboundFeeBps uint64
	InboundFeeBps  uint64
	Owner          common.Address
}

type TransferRequest struct {
	Sender      common.Address
	Destination uint32
	Recipient   common.Hash
	Amount      *uint256.Int
	Value       *uint256.Int
}

type TransferReceipt struct {
	TransferID uint64
	MessageID  common.Hash
	USDValue   *uint256.Int
	Fee        *uint256.Int
	Height     uint64
}

// Delivery is an inbound message as handed over by the transport.
type Delivery struct {
	MessageID common.Hash
	Via       common.Address
	Origin    uint32
	Sender    common.Hash
	Body      []byte
}

type Settlement struct {
	Duplicate bool
	Recipient common.Address
	USDValue  *uint256.Int
	Paid      *uint256.Int
	Fee       *uint256.Int
	Reorg     *domain.ReorgedTransfer
}

// Controller orchestrates the fee ledger, the transfer ledger and the finality
// tracker. Every operation runs as a single unit of work behind one guard:
// a call that arrives while another operation holds it fails with
// ErrReentrantCall instead of waiting.
type Controller struct {
	guard  atomic.Bool
	deps   Dependencies
	cfg    ControllerConfig
	tracer trace.Tracer

	fees      *FeeLedger
	transfers *TransferLedger
	finality  *FinalityTracker

	nextTransferID         uint64
	otherChainInsuranceUSD *uint256.Int
	otherChainLiquidityUSD *uint256.Int
	owner                  common.Address
	transport              common.Address
	counterpart            domain.Counterpart
	deliveries             map[common.Hash]struct{}
}

func NewController(deps Dependencies, cfg ControllerConfig) (*Controller, error) {
	if deps.Oracle == nil || deps.Insurance == nil || deps.Transport == nil || deps.Payer == nil || deps.Heights == nil {
		return nil, errors.New("controller dependencies must not be nil")
	}
	if cfg.LocalDomain == 0 {
		return nil, errors.New("local domain is required")
	}
	if cfg.OutboundFeeBps == 0 {
		cfg.OutboundFeeBps = 1
	}
	if cfg.InboundFeeBps == 0 {
		cfg.InboundFeeBps = 1
	}
	if cfg.OutboundFeeBps > basisPoints || cfg.InboundFeeBps > basisPoints {
		return nil, errors.New("fee exceeds 10000 basis points")
	}
	return &Controller{
		deps:                   deps,
		cfg:                    cfg,
		tracer:                 otel.Tracer("nativebridge/application"),
		fees:                   NewFeeLedger(deps.Insurance, deps.Payer),
		transfers:              NewTransferLedger(deps.Insurance, deps.Observer),
		finality:               NewFinalityTracker(),
		nextTransferID:         1,
		otherChainInsuranceUSD: domain.Zero(),
		otherChainLiquidityUSD: domain.Zero(),
		owner:                  cfg.Owner,
		deliveries:             make(map[common.Hash]struct{}),
	}, nil
}

// Load replaces in-memory state with the store's snapshot. An empty store
// keeps the constructor defaults.
func (c *Controller) Load(ctx context.Context) error {
	if c.deps.Store == nil {
		return nil
	}
	if !c.guard.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer c.guard.Store(false)

	snap, err := c.deps.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	g := snap.Globals
	c.fees.restore(g, snap.Accounts)
	c.transfers.restore(snap.Transfers, snap.Reorgs, snap.Exemptions)
	c.finality.restore(snap.Pending)
	if g.NextTransferID > 0 {
		c.nextTransferID = g.NextTransferID
	}
	c.otherChainInsuranceUSD = domain.Clone(g.OtherChainInsuranceUSD)
	c.otherChainLiquidityUSD = domain.Clone(g.OtherChainLiquidityUSD)
	if g.Owner != (common.Address{}) {
		c.owner = g.Owner
	}
	c.transport = g.Transport
	c.counterpart = g.Counterpart
	c.deliveries = make(map[common.Hash]struct{}, len(snap.Deliveries))
	for _, id := range snap.Deliveries {
		c.deliveries[id] = struct{}{}
	}
	if !c.finality.PendingAmount().Eq(domain.Clone(g.PendingAmount)) {
		slog.Warn("stored pending amount disagrees with pending set",
			"stored", domain.FormatAmount(g.PendingAmount),
			"computed", domain.FormatAmount(c.finality.PendingAmount()),
		)
	}
	slog.Info("bridge state loaded",
		"accounts", len(snap.Accounts),
		"transfers", len(snap.Transfers),
		"pending", len(snap.Pending),
		"next_transfer_id", c.nextTransferID,
	)
	return nil
}

// execute runs fn as one unit of work: state writes, then reversible effects,
// then the store write with irreversible effects delivered right before it
// commits. Any failure reverts every state write and undoes reversible effects.
func (c *Controller) execute(ctx context.Context, op string, fn func(ctx context.Context, u *unitOfWork) error) (err error) {
	if !c.guard.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer c.guard.Store(false)

	ctx, span := c.tracer.Start(ctx, "bridge."+op, trace.WithAttributes(attribute.Int64("bridge.domain", int64(c.cfg.LocalDomain))))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if c.deps.Observer != nil {
			c.deps.Observer.OnOperation(op, err)
		}
	}()

	u := newUnitOfWork()
	if err = fn(ctx, u); err != nil {
		u.revert()
		return err
	}
	if err = u.runReversible(ctx); err != nil {
		u.revert()
		return err
	}
	if c.deps.Store != nil {
		err = c.deps.Store.Apply(ctx, c.changes(u), u.runExternal)
	} else {
		err = u.runExternal(ctx)
	}
	if err != nil {
		if u.external {
			slog.Error("operation failed after external effects ran",
				"op", op,
				"scope", u.scope.Hex(),
				"err", err,
			)
		}
		u.undoReversible(context.WithoutCancel(ctx))
		u.revert()
		return err
	}

	if c.deps.Events != nil && len(u.events) > 0 {
		if pubErr := c.deps.Events.Publish(ctx, u.events); pubErr != nil {
			slog.Warn("publish events failed", "op", op, "count", len(u.events), "err", pubErr)
		}
	}
	if c.deps.Observer != nil && u.pendingSet {
		c.deps.Observer.OnPending(c.finality.Len(), c.finality.PendingAmount())
	}
	return nil
}

// read holds the guard for a query.
func (c *Controller) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.guard.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer c.guard.Store(false)
	return fn(ctx)
}

// accountScope identifies an account operation by the state it starts from,
// so a retry after failure derives the same payout ids.
func (c *Controller) accountScope(op string, user common.Address, arg *uint256.Int) common.Hash {
	acc := c.fees.account(user)
	return crypto.Keccak256Hash(
		[]byte(op),
		user.Bytes(),
		domain.Clone(acc.Shares).PaddedBytes(32),
		domain.Clone(acc.FeeCheckpoint).PaddedBytes(32),
		c.fees.FeeIndex().PaddedBytes(32),
		domain.Clone(arg).PaddedBytes(32),
	)
}

func (c *Controller) globals() domain.Globals {
	return domain.Globals{
		TotalShares:            c.fees.TotalShares(),
		FeeIndex:               c.fees.FeeIndex(),
		TotalFees:              c.fees.TotalFees(),
		Balance:                c.fees.Balance(),
		PendingAmount:          c.finality.PendingAmount(),
		NextTransferID:         c.nextTransferID,
		OtherChainInsuranceUSD: domain.Clone(c.otherChainInsuranceUSD),
		OtherChainLiquidityUSD: domain.Clone(c.otherChainLiquidityUSD),
		Owner:                  c.owner,
		Transport:              c.transport,
		Counterpart:            c.counterpart,
	}
}

func (c *Controller) changes(u *unitOfWork) Changes {
	changes := Changes{
		Globals:    c.globals(),
		Reorgs:     u.reorgs,
		PendingSet: u.pendingSet,
		Exemptions: u.exemptions,
		Deliveries: u.deliveries,
	}
	for addr := range u.accounts {
		acc := c.fees.account(addr)
		changes.Accounts = append(changes.Accounts, domain.Account{
			Address:       addr,
			Shares:        domain.Clone(acc.Shares),
			FeeCheckpoint: domain.Clone(acc.FeeCheckpoint),
		})
	}
	for _, key := range u.transfers {
		record, _ := c.transfers.Lookup(key)
		changes.Transfers = append(changes.Transfers, domain.TransferEntry{Key: key, Record: record})
	}
	if u.pendingSet {
		changes.Pending = c.finality.Pending()
	}
	return changes
}

// insuranceUSD values the insurance reserve plus deposits the current
// operation has yet to make at price.
func (c *Controller) insuranceUSD(ctx context.Context, price domain.Price, staged *uint256.Int) (*uint256.Int, error) {
	balance, err := c.deps.Insurance.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("insurance balance: %w", err)
	}
	total, err := add(domain.Clone(balance), domain.Clone(staged))
	if err != nil {
		return nil, err
	}
	return toUSD(total, price)
}

// TransferRemote bridges Amount to Recipient on Destination. Value must cover
// Amount; the remainder pays the transport.
func (c *Controller) TransferRemote(ctx context.Context, req TransferRequest) (TransferReceipt, error) {
	var receipt *TransferReceipt
	err := c.execute(ctx, "transfer_remote", func(ctx context.Context, u *unitOfWork) error {
		var err error
		receipt, err = c.transferRemote(ctx, u, req)
		return err
	})
	if err != nil {
		return TransferReceipt{}, err
	}
	return *receipt, nil
}

func (c *Controller) transferRemote(ctx context.Context, u *unitOfWork, req TransferRequest) (*TransferReceipt, error) {
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	value := domain.Clone(req.Value)
	if value.Lt(req.Amount) {
		return nil, ErrInsufficientValue
	}

	fee := feeFor(req.Amount, c.cfg.OutboundFeeBps)
	net := new(uint256.Int).Sub(req.Amount, fee)
	if err := c.fees.Credit(u, req.Amount); err != nil {
		return nil, err
	}
	if err := c.fees.Distribute(u, fee); err != nil {
		return nil, err
	}

	price, err := fetchPrice(ctx, c.deps.Oracle)
	if err != nil {
		return nil, err
	}
	usd, err := toUSD(net, price)
	if err != nil {
		return nil, err
	}
	if usd.Gt(c.otherChainLiquidityUSD) {
		return nil, fmt.Errorf("%w: need %s usd, destination reports %s", ErrDestinationLiquidity,
			domain.FormatAmount(usd), domain.FormatAmount(c.otherChainLiquidityUSD))
	}

	height, err := c.deps.Heights.LatestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest height: %w", err)
	}
	c.finality.Sweep(u, height, c.cfg.FinalityWindow)

	// The fee's insurance share counts toward the reserve it is about to join.
	insurance, err := c.insuranceUSD(ctx, price, u.insured)
	if err != nil {
		return nil, err
	}
	safe := saturatingSub(insurance, c.finality.PendingAmount())
	if usd.Gt(safe) {
		return nil, fmt.Errorf("%w: need %s usd, safe bridgeable %s", ErrExposureLimit,
			domain.FormatAmount(usd), domain.FormatAmount(safe))
	}

	if c.transport == (common.Address{}) {
		return nil, ErrTransportUnset
	}
	if !c.counterpart.IsSet() {
		return nil, ErrCounterpartUnset
	}
	if req.Destination != c.counterpart.Domain {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDestination, req.Destination)
	}

	id := c.nextTransferID
	key := domain.TransferKey{Direction: domain.Outbound, Chain: req.Destination, ID: id}
	if _, err := c.transfers.Record(u, key, usd, height, price); err != nil {
		return nil, err
	}
	if err := c.finality.Admit(u, usd, height); err != nil {
		return nil, err
	}
	setValue(u, &c.nextTransferID, id+1)

	liquidity, err := toUSD(c.fees.TotalLiquidity(), price)
	if err != nil {
		return nil, err
	}
	body, err := streaming.EncodeBody(streaming.TransferBody{
		Recipient: req.Recipient,
		USDAmount: usd,
		Metadata: domain.Metadata{
			InsuranceUSD: insurance,
			LiquidityUSD: liquidity,
			TransferID:   id,
			OriginHeight: height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	payment := new(uint256.Int).Sub(value, req.Amount)
	quote, err := c.deps.Transport.Quote(ctx, c.counterpart.Domain, c.counterpart.Address, body)
	if err != nil {
		return nil, fmt.Errorf("quote dispatch: %w", err)
	}
	if payment.Lt(domain.Clone(quote)) {
		return nil, fmt.Errorf("%w: dispatch costs %s, %s attached", ErrInsufficientValue,
			domain.FormatAmount(quote), domain.FormatAmount(payment))
	}

	receipt := &TransferReceipt{TransferID: id, USDValue: usd, Fee: fee, Height: height}
	counterpart := c.counterpart
	u.deferEffect("dispatch", stageExternal, func(ctx context.Context) error {
		messageID, err := c.deps.Transport.Dispatch(ctx, counterpart.Domain, counterpart.Address, body, payment)
		if err != nil {
			return err
		}
		receipt.MessageID = messageID
		u.emit(domain.Event{
			Type:       domain.EventTransferSent,
			Account:    req.Sender,
			Recipient:  req.Recipient,
			Chain:      req.Destination,
			TransferID: id,
			MessageID:  messageID,
			Amount:     domain.Clone(req.Amount),
			USDAmount:  usd,
			Fee:        fee,
			Height:     height,
		})
		return nil
	}, nil)
	return receipt, nil
}

// HandleInbound settles a message from the counterpart. A message id that was
// already applied is acknowledged without effect.
func (c *Controller) HandleInbound(ctx context.Context, msg Delivery) (Settlement, error) {
	var settlement Settlement
	err := c.execute(ctx, "handle_inbound", func(ctx context.Context, u *unitOfWork) error {
		if c.transport == (common.Address{}) || msg.Via != c.transport {
			return fmt.Errorf("%w: delivered via %s", ErrUnauthorized, msg.Via.Hex())
		}
		if !c.counterpart.IsSet() || msg.Origin != c.counterpart.Domain || msg.Sender != c.counterpart.Address {
			return fmt.Errorf("%w: origin %d sender %s", ErrUnauthorized, msg.Origin, msg.Sender.Hex())
		}
		if c.processed(msg.MessageID) {
			settlement.Duplicate = true
			return nil
		}
		u.scope = msg.MessageID

		body, err := streaming.DecodeBody(msg.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		price, err := fetchPrice(ctx, c.deps.Oracle)
		if err != nil {
			return err
		}

		key := domain.TransferKey{Direction: domain.Inbound, Chain: msg.Origin, ID: body.Metadata.TransferID}
		reorg, err := c.transfers.Record(u, key, body.USDAmount, body.Metadata.OriginHeight, price)
		if err != nil {
			return err
		}
		u.setAmount(&c.otherChainInsuranceUSD, domain.Clone(body.Metadata.InsuranceUSD))
		u.setAmount(&c.otherChainLiquidityUSD, domain.Clone(body.Metadata.LiquidityUSD))

		native, err := toNative(body.USDAmount, price)
		if err != nil {
			return err
		}
		fee := feeFor(native, c.cfg.InboundFeeBps)
		if err := c.fees.Distribute(u, fee); err != nil {
			return err
		}
		recipient := streaming.RecipientAddress(body.Recipient)
		paid := new(uint256.Int).Sub(native, fee)
		if err := c.fees.Pay(u, recipient, paid); err != nil {
			return err
		}
		c.markProcessed(u, msg.MessageID)

		settlement = Settlement{Recipient: recipient, USDValue: body.USDAmount, Paid: paid, Fee: fee, Reorg: reorg}
		u.emit(domain.Event{
			Type:       domain.EventTransferReceived,
			Account:    recipient,
			Recipient:  body.Recipient,
			Chain:      msg.Origin,
			TransferID: body.Metadata.TransferID,
			MessageID:  msg.MessageID,
			Amount:     paid,
			USDAmount:  body.USDAmount,
			Fee:        fee,
			Height:     body.Metadata.OriginHeight,
		})
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}
	return settlement, nil
}

// processed reports whether a message or funding id was already applied.
func (c *Controller) processed(id common.Hash) bool {
	_, done := c.deliveries[id]
	return done
}

func (c *Controller) markProcessed(u *unitOfWork, id common.Hash) {
	c.deliveries[id] = struct{}{}
	u.deliveries = append(u.deliveries, id)
	u.onRevert(func() { delete(c.deliveries, id) })
}

func (c *Controller) Deposit(ctx context.Context, provider common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var shares *uint256.Int
	err := c.execute(ctx, "deposit", func(ctx context.Context, u *unitOfWork) error {
		u.scope = c.accountScope("deposit", provider, amount)
		var err error
		shares, err = c.deposit(u, provider, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (c *Controller) deposit(u *unitOfWork, provider common.Address, amount *uint256.Int) (*uint256.Int, error) {
	claimed, err := c.fees.PendingFees(provider)
	if err != nil {
		return nil, err
	}
	shares, err := c.fees.Deposit(u, provider, amount)
	if err != nil {
		return nil, err
	}
	c.emitClaim(u, provider, claimed)
	u.emit(domain.Event{Type: domain.EventLiquidityDeposited, Account: provider, Amount: domain.Clone(amount), Shares: shares})
	return shares, nil
}

func (c *Controller) Withdraw(ctx context.Context, provider common.Address, shares *uint256.Int) (*uint256.Int, error) {
	var amount *uint256.Int
	err := c.execute(ctx, "withdraw", func(ctx context.Context, u *unitOfWork) error {
		u.scope = c.accountScope("withdraw", provider, shares)
		claimed, err := c.fees.PendingFees(provider)
		if err != nil {
			return err
		}
		if amount, err = c.fees.Withdraw(u, provider, shares); err != nil {
			return err
		}
		c.emitClaim(u, provider, claimed)
		u.emit(domain.Event{Type: domain.EventLiquidityWithdrawn, Account: provider, Amount: amount, Shares: domain.Clone(shares)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (c *Controller) Claim(ctx context.Context, user common.Address) (*uint256.Int, error) {
	var amount *uint256.Int
	err := c.execute(ctx, "claim", func(ctx context.Context, u *unitOfWork) error {
		u.scope = c.accountScope("claim", user, nil)
		var err error
		if amount, err = c.fees.Claim(u, user); err != nil {
			return err
		}
		c.emitClaim(u, user, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (c *Controller) emitClaim(u *unitOfWork, user common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	u.emit(domain.Event{Type: domain.EventFeesClaimed, Account: user, Amount: amount})
}

// Donate accepts plain value into the pool, raising the value of every share.
func (c *Controller) Donate(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return c.execute(ctx, "donate", func(ctx context.Context, u *unitOfWork) error {
		return c.donate(u, from, amount)
	})
}

func (c *Controller) donate(u *unitOfWork, from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := c.fees.Credit(u, amount); err != nil {
		return err
	}
	u.emit(domain.Event{Type: domain.EventDonationReceived, Account: from, Amount: domain.Clone(amount)})
	return nil
}

func (c *Controller) requireOwner(caller common.Address) error {
	if caller != c.owner || caller == (common.Address{}) {
		return ErrNotOwner
	}
	return nil
}

func (c *Controller) SetTransport(ctx context.Context, caller, transport common.Address) error {
	return c.execute(ctx, "set_transport", func(ctx context.Context, u *unitOfWork) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		setValue(u, &c.transport, transport)
		return nil
	})
}

func (c *Controller) SetCounterpart(ctx context.Context, caller common.Address, counterpart domain.Counterpart) error {
	return c.execute(ctx, "set_counterpart", func(ctx context.Context, u *unitOfWork) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if !counterpart.IsSet() {
			return fmt.Errorf("%w: domain and address are required", ErrCounterpartUnset)
		}
		if counterpart.Domain == c.cfg.LocalDomain {
			return fmt.Errorf("%w: counterpart domain equals local domain", ErrUnknownDestination)
		}
		setValue(u, &c.counterpart, counterpart)
		return nil
	})
}

func (c *Controller) ExemptReorg(ctx context.Context, caller common.Address, exemption domain.ReorgExemption) error {
	return c.execute(ctx, "exempt_reorg", func(ctx context.Context, u *unitOfWork) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		c.transfers.Exempt(u, exemption)
		return nil
	})
}

func (c *Controller) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	return c.execute(ctx, "transfer_ownership", func(ctx context.Context, u *unitOfWork) error {
		if err := c.requireOwner(caller); err != nil {
			return err
		}
		if newOwner == (common.Address{}) {
			return fmt.Errorf("%w: new owner is the zero address", ErrNotOwner)
		}
		setValue(u, &c.owner, newOwner)
		return nil
	})
}

// SweepFinality releases pending transfers that have left the finality window.
func (c *Controller) SweepFinality(ctx context.Context) (int, *uint256.Int, error) {
	var (
		count    int
		released *uint256.Int
	)
	err := c.execute(ctx, "sweep_finality", func(ctx context.Context, u *unitOfWork) error {
		height, err := c.deps.Heights.LatestHeight(ctx)
		if err != nil {
			return fmt.Errorf("latest height: %w", err)
		}
		count, released = c.finality.Sweep(u, height, c.cfg.FinalityWindow)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return count, released, nil
}

func (c *Controller) LatestPrice(ctx context.Context) (domain.Price, error) {
	var price domain.Price
	err := c.read(ctx, func(ctx context.Context) error {
		var err error
		price, err = fetchPrice(ctx, c.deps.Oracle)
		return err
	})
	return price, err
}

// InsuranceValuation is the insurance reserve valued in USD at the current price.
func (c *Controller) InsuranceValuation(ctx context.Context) (*uint256.Int, error) {
	var usd *uint256.Int
	err := c.read(ctx, func(ctx context.Context) error {
		price, err := fetchPrice(ctx, c.deps.Oracle)
		if err != nil {
			return err
		}
		usd, err = c.insuranceUSD(ctx, price, nil)
		return err
	})
	return usd, err
}

// SafeBridgeable is the USD value a new outbound transfer may carry right now,
// ignoring entries a sweep would release.
func (c *Controller) SafeBridgeable(ctx context.Context) (*uint256.Int, error) {
	var safe *uint256.Int
	err := c.read(ctx, func(ctx context.Context) error {
		price, err := fetchPrice(ctx, c.deps.Oracle)
		if err != nil {
			return err
		}
		insurance, err := c.insuranceUSD(ctx, price, nil)
		if err != nil {
			return err
		}
		safe = saturatingSub(insurance, c.finality.PendingAmount())
		return nil
	})
	return safe, err
}

func (c *Controller) TotalLiquidity(ctx context.Context) (*uint256.Int, error) {
	var total *uint256.Int
	err := c.read(ctx, func(context.Context) error {
		total = c.fees.TotalLiquidity()
		return nil
	})
	return total, err
}

func (c *Controller) PendingFees(ctx context.Context, user common.Address) (*uint256.Int, error) {
	var pending *uint256.Int
	err := c.read(ctx, func(context.Context) error {
		var err error
		pending, err = c.fees.PendingFees(user)
		return err
	})
	return pending, err
}

func (c *Controller) WithdrawableValue(ctx context.Context, user common.Address) (*uint256.Int, error) {
	var value *uint256.Int
	err := c.read(ctx, func(context.Context) error {
		var err error
		value, err = c.fees.WithdrawableValue(user)
		return err
	})
	return value, err
}

func (c *Controller) Shares(ctx context.Context, user common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := c.read(ctx, func(context.Context) error {
		shares = c.fees.Shares(user)
		return nil
	})
	return shares, err
}

func (c *Controller) PendingTransfers(ctx context.Context) ([]domain.PendingTransfer, error) {
	var pending []domain.PendingTransfer
	err := c.read(ctx, func(context.Context) error {
		pending = c.finality.Pending()
		return nil
	})
	return pending, err
}

func (c *Controller) Transfer(ctx context.Context, key domain.TransferKey) (domain.TransferRecord, bool, error) {
	var (
		record domain.TransferRecord
		found  bool
	)
	err := c.read(ctx, func(context.Context) error {
		record, found = c.transfers.Lookup(key)
		return nil
	})
	return record, found, err
}

func (c *Controller) Reorgs(ctx context.Context, origin uint32) ([]domain.ReorgedTransfer, error) {
	var reorgs []domain.ReorgedTransfer
	err := c.read(ctx, func(context.Context) error {
		reorgs = c.transfers.Reorgs(origin)
		return nil
	})
	return reorgs, err
}

func (c *Controller) State(ctx context.Context) (domain.Globals, error) {
	var globals domain.Globals
	err := c.read(ctx, func(context.Context) error {
		globals = c.globals()
		return nil
	})
	return globals, err
}

func (c *Controller) LocalDomain() uint32 {
	return c.cfg.LocalDomain
}
