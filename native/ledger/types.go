package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"lendcore/core/events"
	"lendcore/crypto"
	"lendcore/native/lending"
)

// Storage abstracts the subset of state manager functionality required by the
// ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	Atomic(fn func() error) error
	Emit(events.Event)
}

var (
	ErrUnknownAsset        = errors.New("ledger: unknown asset")
	ErrInsufficientBalance = fmt.Errorf("ledger: insufficient balance: %w", lending.ErrInsufficientFunds)
	ErrNotApproved         = fmt.Errorf("ledger: operator not approved: %w", lending.ErrUnauthorized)
	ErrInvalidAmount       = fmt.Errorf("ledger: invalid amount: %w", lending.ErrInvalidParameter)
)

var (
	assetPrefix      = []byte("ledger/asset/")
	assetLookupKey   = []byte("ledger/asset-lookup/")
	assetCountKey    = []byte("ledger/asset-count")
	balancePrefix    = []byte("ledger/balance/")
	walletPrefix     = []byte("ledger/wallet/")
	approvalPrefix   = []byte("ledger/approval/")
	holderListPrefix = []byte("ledger/holders/")
)

func assetIDBytes(id lending.AssetID) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(id))
	return buf[:]
}

func assetKey(id lending.AssetID) []byte {
	return append(append([]byte(nil), assetPrefix...), assetIDBytes(id)...)
}

func assetLookup(token, strategy string) []byte {
	key := append([]byte(nil), assetLookupKey...)
	key = append(key, []byte(normalizeToken(token))...)
	key = append(key, '/')
	return append(key, []byte(strategy)...)
}

func balanceKey(id lending.AssetID, account crypto.Address) []byte {
	key := append(append([]byte(nil), balancePrefix...), assetIDBytes(id)...)
	return append(key, account[:]...)
}

func holderListKey(id lending.AssetID) []byte {
	return append(append([]byte(nil), holderListPrefix...), assetIDBytes(id)...)
}

func walletKey(token string, account crypto.Address) []byte {
	key := append(append([]byte(nil), walletPrefix...), []byte(normalizeToken(token))...)
	key = append(key, '/')
	return append(key, account[:]...)
}

func approvalKey(owner, operator crypto.Address) []byte {
	key := append(append([]byte(nil), approvalPrefix...), owner[:]...)
	return append(key, operator[:]...)
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// Asset is one (token, strategy) pair. Totals relates the underlying token
// amount held for the asset (elastic) to the shares issued against it (base).
type Asset struct {
	ID       lending.AssetID
	Token    string
	Strategy string
	Totals   lending.Rebase
}

// Clone returns a deep copy.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	out := *a
	out.Totals = a.Totals.Clone()
	return &out
}
