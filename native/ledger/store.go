package ledger

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

// Store is the shared multi-asset share ledger. Wallet balances hold raw token
// amounts; deposits convert them into asset shares whose value floats with the
// asset's strategy. Markets and swap venues interact with it through
// per-operator handles returned by Operator.
//
// A Store is not safe for concurrent use. Callers serialize access.
type Store struct {
	state  Storage
	logger *slog.Logger
}

// NewStore binds a ledger to the provided storage backend.
func NewStore(state Storage) *Store {
	return &Store{state: state, logger: slog.Default().With("component", "ledger")}
}

// SetLogger replaces the structured logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With("component", "ledger")
	}
}

// RegisterAsset returns the id of the (token, strategy) pair, allocating a new
// one on first use.
func (s *Store) RegisterAsset(token, strategy string) (lending.AssetID, error) {
	token = normalizeToken(token)
	if token == "" {
		return 0, fmt.Errorf("%w: token required", ErrInvalidAmount)
	}
	var id lending.AssetID
	err := s.state.Atomic(func() error {
		var existing uint32
		ok, err := s.state.KVGet(assetLookup(token, strategy), &existing)
		if err != nil {
			return err
		}
		if ok {
			id = lending.AssetID(existing)
			return nil
		}
		var count uint32
		if _, err := s.state.KVGet(assetCountKey, &count); err != nil {
			return err
		}
		count++
		id = lending.AssetID(count)
		asset := &Asset{ID: id, Token: token, Strategy: strategy, Totals: lending.NewRebase()}
		if err := s.state.KVPut(assetKey(id), asset); err != nil {
			return err
		}
		if err := s.state.KVPut(assetLookup(token, strategy), count); err != nil {
			return err
		}
		if err := s.state.KVPut(assetCountKey, count); err != nil {
			return err
		}
		s.state.Emit(events.LedgerAssetRegistered{AssetID: uint32(id), Token: token, Strategy: strategy})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: register asset: %w", err)
	}
	return id, nil
}

// Asset returns the asset record.
func (s *Store) Asset(id lending.AssetID) (*Asset, error) {
	asset := new(Asset)
	ok, err := s.state.KVGet(assetKey(id), asset)
	if err != nil {
		return nil, fmt.Errorf("ledger: load asset: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAsset, id)
	}
	asset.Totals = asset.Totals.Clone()
	return asset, nil
}

// Assets lists every registered asset in id order.
func (s *Store) Assets() ([]*Asset, error) {
	var count uint32
	if _, err := s.state.KVGet(assetCountKey, &count); err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, count)
	for i := uint32(1); i <= count; i++ {
		asset, err := s.Asset(lending.AssetID(i))
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}

func (s *Store) storeAsset(asset *Asset) error {
	if err := s.state.KVPut(assetKey(asset.ID), asset); err != nil {
		return fmt.Errorf("ledger: store asset: %w", err)
	}
	return nil
}

func (s *Store) readAmount(key []byte) (*uint256.Int, error) {
	v := new(uint256.Int)
	ok, err := s.state.KVGet(key, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return v, nil
}

func (s *Store) writeAmount(key []byte, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return s.state.KVDelete(key)
	}
	return s.state.KVPut(key, v)
}

// WalletBalance returns the raw token amount account holds outside the
// ledger.
func (s *Store) WalletBalance(token string, account crypto.Address) *uint256.Int {
	v, err := s.readAmount(walletKey(token, account))
	if err != nil {
		s.logger.Warn("wallet balance unreadable", slog.String("token", token), slog.Any("error", err))
		return new(uint256.Int)
	}
	return v
}

// Mint credits amount of token to the wallet of to. It backs genesis funding
// and development faucets.
func (s *Store) Mint(token string, to crypto.Address, amount *uint256.Int) error {
	if to.IsZero() || amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: mint requires a recipient and a positive amount", ErrInvalidAmount)
	}
	return s.state.Atomic(func() error {
		key := walletKey(token, to)
		balance, err := s.readAmount(key)
		if err != nil {
			return err
		}
		next, overflow := new(uint256.Int).AddOverflow(balance, amount)
		if overflow {
			return fmt.Errorf("%w: wallet overflow", ErrInvalidAmount)
		}
		return s.writeAmount(key, next)
	})
}

// BalanceOf returns the shares account holds of asset.
func (s *Store) BalanceOf(account crypto.Address, asset lending.AssetID) *uint256.Int {
	v, err := s.readAmount(balanceKey(asset, account))
	if err != nil {
		s.logger.Warn("share balance unreadable", slog.Uint64("asset", uint64(asset)), slog.Any("error", err))
		return new(uint256.Int)
	}
	return v
}

// AmountOf returns the underlying amount behind account's shares, rounded
// down.
func (s *Store) AmountOf(account crypto.Address, asset lending.AssetID) *uint256.Int {
	return s.ToAmount(asset, s.BalanceOf(account, asset), false)
}

// ToShare converts an underlying amount into shares of asset. An asset
// without deposits converts one to one.
func (s *Store) ToShare(asset lending.AssetID, amount *uint256.Int, roundUp bool) *uint256.Int {
	record, err := s.Asset(asset)
	if err != nil {
		return new(uint256.Int)
	}
	return record.Totals.ToBase(amount, roundUp)
}

// ToAmount converts shares of asset into the underlying amount.
func (s *Store) ToAmount(asset lending.AssetID, share *uint256.Int, roundUp bool) *uint256.Int {
	record, err := s.Asset(asset)
	if err != nil {
		return new(uint256.Int)
	}
	return record.Totals.ToElastic(share, roundUp)
}

// SetApprovalForAll lets operator move every asset owned by owner.
func (s *Store) SetApprovalForAll(owner, operator crypto.Address, approved bool) error {
	if owner.IsZero() || operator.IsZero() {
		return fmt.Errorf("%w: owner and operator required", ErrInvalidAmount)
	}
	return s.state.Atomic(func() error {
		key := approvalKey(owner, operator)
		if approved {
			if err := s.state.KVPut(key, true); err != nil {
				return err
			}
		} else if err := s.state.KVDelete(key); err != nil {
			return err
		}
		s.state.Emit(events.LedgerApproval{Owner: owner, Operator: operator, Approved: approved})
		return nil
	})
}

// IsApproved reports whether operator may move owner's shares.
func (s *Store) IsApproved(owner, operator crypto.Address) bool {
	if owner == operator {
		return true
	}
	var approved bool
	ok, err := s.state.KVGet(approvalKey(owner, operator), &approved)
	return err == nil && ok && approved
}

// Holders lists every account that ever held shares of asset.
func (s *Store) Holders(asset lending.AssetID) ([]crypto.Address, error) {
	var raw [][]byte
	if err := s.state.KVGetList(holderListKey(asset), &raw); err != nil {
		return nil, err
	}
	seen := make(map[crypto.Address]struct{}, len(raw))
	out := make([]crypto.Address, 0, len(raw))
	for _, entry := range raw {
		addr := crypto.BytesToAddress(entry)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

func (s *Store) credit(asset lending.AssetID, account crypto.Address, share *uint256.Int) error {
	key := balanceKey(asset, account)
	balance, err := s.readAmount(key)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		if err := s.state.KVAppend(holderListKey(asset), account[:]); err != nil {
			return err
		}
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, share)
	if overflow {
		return fmt.Errorf("%w: share balance overflow", ErrInvalidAmount)
	}
	return s.writeAmount(key, next)
}

func (s *Store) debit(asset lending.AssetID, account crypto.Address, share *uint256.Int) error {
	key := balanceKey(asset, account)
	balance, err := s.readAmount(key)
	if err != nil {
		return err
	}
	if balance.Lt(share) {
		return fmt.Errorf("%w: %s holds %s shares of asset %d, needs %s", ErrInsufficientBalance, account, balance.Dec(), asset, share.Dec())
	}
	return s.writeAmount(key, new(uint256.Int).Sub(balance, share))
}

func (s *Store) authorize(operator, owner crypto.Address) error {
	if owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidAmount)
	}
	if !s.IsApproved(owner, operator) {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, operator, owner)
	}
	return nil
}

// deposit converts wallet funds of from into shares credited to to. Exactly
// one of amount and share must be non-zero.
func (s *Store) deposit(operator crypto.Address, id lending.AssetID, from, to crypto.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if to.IsZero() {
		return nil, nil, fmt.Errorf("%w: recipient required", ErrInvalidAmount)
	}
	if err := s.authorize(operator, from); err != nil {
		return nil, nil, err
	}
	var amountOut, shareOut *uint256.Int
	err := s.state.Atomic(func() error {
		asset, err := s.Asset(id)
		if err != nil {
			return err
		}
		amountOut, shareOut, err = resolvePair(asset, amount, share, false)
		if err != nil {
			return err
		}
		walletK := walletKey(asset.Token, from)
		wallet, err := s.readAmount(walletK)
		if err != nil {
			return err
		}
		if wallet.Lt(amountOut) {
			return fmt.Errorf("%w: wallet holds %s %s, needs %s", ErrInsufficientBalance, wallet.Dec(), asset.Token, amountOut.Dec())
		}
		if err := s.writeAmount(walletK, new(uint256.Int).Sub(wallet, amountOut)); err != nil {
			return err
		}
		asset.Totals.AddBoth(amountOut, shareOut)
		if err := s.storeAsset(asset); err != nil {
			return err
		}
		if err := s.credit(id, to, shareOut); err != nil {
			return err
		}
		s.state.Emit(events.LedgerDeposit{AssetID: uint32(id), From: from, To: to, Amount: amountOut, Share: shareOut})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amountOut, shareOut, nil
}

// withdraw burns shares of from and pays the underlying amount to the wallet
// of to.
func (s *Store) withdraw(operator crypto.Address, id lending.AssetID, from, to crypto.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if to.IsZero() {
		return nil, nil, fmt.Errorf("%w: recipient required", ErrInvalidAmount)
	}
	if err := s.authorize(operator, from); err != nil {
		return nil, nil, err
	}
	var amountOut, shareOut *uint256.Int
	err := s.state.Atomic(func() error {
		asset, err := s.Asset(id)
		if err != nil {
			return err
		}
		amountOut, shareOut, err = resolvePair(asset, amount, share, true)
		if err != nil {
			return err
		}
		if asset.Totals.Elastic.Lt(amountOut) {
			return fmt.Errorf("%w: asset %d holds %s", ErrInsufficientBalance, id, asset.Totals.Elastic.Dec())
		}
		if err := s.debit(id, from, shareOut); err != nil {
			return err
		}
		asset.Totals.SubBoth(amountOut, shareOut)
		if err := s.storeAsset(asset); err != nil {
			return err
		}
		walletK := walletKey(asset.Token, to)
		wallet, err := s.readAmount(walletK)
		if err != nil {
			return err
		}
		if err := s.writeAmount(walletK, new(uint256.Int).Add(wallet, amountOut)); err != nil {
			return err
		}
		s.state.Emit(events.LedgerWithdraw{AssetID: uint32(id), From: from, To: to, Amount: amountOut, Share: shareOut})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return amountOut, shareOut, nil
}

// resolvePair fills in whichever of amount and share is missing. Deposits
// round shares down and amounts up; withdrawals the other way around, so the
// ledger never pays out more than it holds.
func resolvePair(asset *Asset, amount, share *uint256.Int, withdraw bool) (*uint256.Int, *uint256.Int, error) {
	hasAmount := amount != nil && !amount.IsZero()
	hasShare := share != nil && !share.IsZero()
	switch {
	case hasAmount == hasShare:
		return nil, nil, fmt.Errorf("%w: exactly one of amount and share", ErrInvalidAmount)
	case hasAmount:
		out := asset.Totals.ToBase(amount, withdraw)
		if out.IsZero() {
			return nil, nil, fmt.Errorf("%w: amount below one share", ErrInvalidAmount)
		}
		return new(uint256.Int).Set(amount), out, nil
	default:
		out := asset.Totals.ToElastic(share, !withdraw)
		return out, new(uint256.Int).Set(share), nil
	}
}

// transfer moves shares between accounts. A zero share is a no-op.
func (s *Store) transfer(operator crypto.Address, id lending.AssetID, from, to crypto.Address, share *uint256.Int) error {
	if share == nil || share.IsZero() {
		return nil
	}
	if to.IsZero() {
		return fmt.Errorf("%w: recipient required", ErrInvalidAmount)
	}
	if err := s.authorize(operator, from); err != nil {
		return err
	}
	return s.state.Atomic(func() error {
		if _, err := s.Asset(id); err != nil {
			return err
		}
		if err := s.debit(id, from, share); err != nil {
			return err
		}
		if err := s.credit(id, to, share); err != nil {
			return err
		}
		s.state.Emit(events.LedgerTransfer{AssetID: uint32(id), From: from, To: to, Share: new(uint256.Int).Set(share)})
		return nil
	})
}

// AccrueYield books strategy profit: the asset's underlying grows while its
// share count stays fixed, so every share is worth more.
func (s *Store) AccrueYield(id lending.AssetID, amount *uint256.Int) error {
	return s.bookStrategy(id, amount, false)
}

// Slash books a strategy loss against the asset.
func (s *Store) Slash(id lending.AssetID, amount *uint256.Int) error {
	return s.bookStrategy(id, amount, true)
}

func (s *Store) bookStrategy(id lending.AssetID, amount *uint256.Int, loss bool) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: strategy amount must be positive", ErrInvalidAmount)
	}
	return s.state.Atomic(func() error {
		asset, err := s.Asset(id)
		if err != nil {
			return err
		}
		if asset.Totals.Base.IsZero() {
			return fmt.Errorf("%w: asset %d has no shares outstanding", ErrInvalidAmount, id)
		}
		if loss {
			asset.Totals.SubBoth(amount, new(uint256.Int))
		} else {
			asset.Totals.AddBoth(amount, new(uint256.Int))
		}
		if err := s.storeAsset(asset); err != nil {
			return err
		}
		s.state.Emit(events.LedgerStrategy{AssetID: uint32(id), Amount: new(uint256.Int).Set(amount), Loss: loss})
		s.logger.Info("strategy result booked",
			slog.Uint64("asset", uint64(id)),
			slog.String("amount", amount.Dec()),
			slog.Bool("loss", loss))
		return nil
	})
}
