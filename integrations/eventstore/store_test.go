package eventstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendcore/core/events"
	"lendcore/crypto"
)

func testAddr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = 0x5E
	a[19] = b
	return a
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := Open(DriverSQLite, path, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store) {
	t.Helper()
	market := testAddr(0xAA)
	borrower := testAddr(0x01)
	store.Emit(events.LendingCollateralAdded{Market: market, From: borrower, To: borrower, Share: uint256.NewInt(10)})
	store.Emit(events.LendingBorrowed{Market: market, From: borrower, To: borrower, Amount: uint256.NewInt(7), Fee: uint256.NewInt(0), Part: uint256.NewInt(7)})
	store.Emit(events.RegistrySwapperUpdated{Registry: testAddr(0xF0), Swapper: testAddr(0x30), Allowed: true})
}

func TestAppendAndQuery(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "events.db"))
	seed(t, store)

	all, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.TypeLendingCollateralAdded, all[0].Type)
	require.Equal(t, testAddr(0xAA).String(), all[0].Market)
	require.Equal(t, "7", all[1].Attrs()["amount"])
	require.Equal(t, store.Head(), all[2].Digest)

	lending, err := store.Query(context.Background(), Filter{Type: "lending."})
	require.NoError(t, err)
	require.Len(t, lending, 2)

	borrowed, err := store.Query(context.Background(), Filter{Type: events.TypeLendingBorrowed, Account: testAddr(0x01).String()})
	require.NoError(t, err)
	require.Len(t, borrowed, 1)

	page, err := store.Query(context.Background(), Filter{AfterID: all[0].ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, all[1].ID, page[0].ID)

	raw, err := json.Marshal(all[1])
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "7", decoded["attributes"].(map[string]interface{})["part"])
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store := openStore(t, path)
	seed(t, store)

	checked, err := store.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, checked)

	require.NoError(t, store.db.Model(&Record{}).Where("id = ?", 2).Update("attributes", `{"amount":"700"}`).Error)
	_, err = store.Verify(context.Background())
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	first, err := Open(DriverSQLite, path)
	require.NoError(t, err)
	seed(t, first)
	head := first.Head()
	require.NoError(t, first.Close())

	second := openStore(t, path)
	require.Equal(t, head, second.Head())
	second.Emit(events.RegistrySwapperUpdated{Registry: testAddr(0xF0), Swapper: testAddr(0x30), Allowed: false})
	checked, err := second.Verify(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, checked)
}

func TestExportParquet(t *testing.T) {
	dir := t.TempDir()
	store := openStore(t, filepath.Join(dir, "events.db"))
	seed(t, store)

	out := filepath.Join(dir, "events.parquet")
	n, err := store.ExportParquet(context.Background(), out, Filter{Type: "lending."})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
	_, err = Open(DriverPostgres, "")
	require.Error(t, err)
}
