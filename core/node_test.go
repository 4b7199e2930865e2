package core

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"accesspay/config"
	"accesspay/core/events"
	"accesspay/core/types"
	"accesspay/native/access"
	"accesspay/native/payment"
	"accesspay/native/split"
	"accesspay/storage"
)

var (
	testPrograms = config.ProgramSet{
		Escrow: common.HexToAddress("0xe5c0000000000000000000000000000000000001"),
		Split:  common.HexToAddress("0x5b11000000000000000000000000000000000001"),
		Access: common.HexToAddress("0xacce550000000000000000000000000000000001"),
		Token:  common.HexToAddress("0x70ce000000000000000000000000000000000001"),
	}
	testTreasury = common.HexToAddress("0x7e00000000000000000000000000000000000071")
)

const bootstrapYAML = `collections:
  - creator: "0xc0000000000000000000000000000000000000c1"
    content: "0xaa00000000000000000000000000000000000000000000000000000000000000"
splits:
  - creator: "0xc0000000000000000000000000000000000000c1"
    content: "0xaa00000000000000000000000000000000000000000000000000000000000000"
    platformFeeBps: 500
    collaborators:
      - identity: "0xc011000000000000000000000000000000000001"
        shareBps: 2000
accounts:
  - owner: "0xb0000000000000000000000000000000000000b1"
    native: 1000
    tokenAccounts:
      - address: "0xe100000000000000000000000000000000000001"
        mint: "0xf100000000000000000000000000000000000001"
        balance: 40
`

func newTestNode(t *testing.T, rec events.Emitter) *Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := NewNode(db, Options{Programs: testPrograms, Treasury: testTreasury, Emitter: rec, Now: func() int64 { return 1_700_000_000 }})
	require.NoError(t, err)
	return node
}

func TestNewNodeValidates(t *testing.T) {
	_, err := NewNode(nil, Options{Programs: testPrograms})
	require.Error(t, err)

	_, err = NewNode(storage.NewMemDB(), Options{})
	require.ErrorContains(t, err, "program identities")
}

func TestBootstrapCreatesRecordsOnce(t *testing.T) {
	rec := &events.Recorder{}
	node := newTestNode(t, rec)
	manifest, err := config.DecodeManifest(strings.NewReader(bootstrapYAML))
	require.NoError(t, err)

	summary, err := node.Bootstrap(manifest, true)
	require.NoError(t, err)
	require.Equal(t, BootstrapSummary{Collections: 1, Splits: 1, Accounts: 1}, summary)

	creator := common.HexToAddress("0xc0000000000000000000000000000000000000c1")
	content := types.ContentID{0xaa}
	col, err := node.Issuer().Collection(creator, content)
	require.NoError(t, err)
	require.Equal(t, access.CollectionID(creator, content, 0), col.ID)

	cfg, err := node.Splits().Split(split.ID(creator, content, 0))
	require.NoError(t, err)
	require.Equal(t, uint32(7500), cfg.CreatorBps())

	buyer := common.HexToAddress("0xb0000000000000000000000000000000000000b1")
	balance, err := node.NativeBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance)

	// A second pass only tops up and creates nothing new.
	again, err := node.Bootstrap(manifest, true)
	require.NoError(t, err)
	require.Equal(t, BootstrapSummary{Accounts: 1}, again)
	balance, err = node.NativeBalance(buyer)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), balance)

	acc, ok, err := node.TokenAccount(common.HexToAddress("0xe100000000000000000000000000000000000001"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), acc.Amount)
	require.Equal(t, buyer, acc.Owner)

	require.Len(t, rec.OfType(split.EventTypeSplitInitialized), 1)
}

func TestBootstrapSkipsFundingOutsideDev(t *testing.T) {
	node := newTestNode(t, nil)
	manifest, err := config.DecodeManifest(strings.NewReader(bootstrapYAML))
	require.NoError(t, err)

	summary, err := node.Bootstrap(manifest, false)
	require.NoError(t, err)
	require.Zero(t, summary.Accounts)

	balance, err := node.NativeBalance(common.HexToAddress("0xb0000000000000000000000000000000000000b1"))
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestBootstrapReportsInvalidSplit(t *testing.T) {
	node := newTestNode(t, nil)
	manifest := &config.Manifest{Splits: []config.SplitEntry{{
		Creator:        "0xc0000000000000000000000000000000000000c1",
		Content:        "0xaa00000000000000000000000000000000000000000000000000000000000000",
		PlatformFeeBps: 5000,
	}}}
	_, err := node.Bootstrap(manifest, false)
	require.ErrorIs(t, err, split.ErrPlatformFeeTooHigh)
}

func TestOpenAssociatedAccountIsIdempotent(t *testing.T) {
	node := newTestNode(t, nil)
	owner := common.HexToAddress("0xb0000000000000000000000000000000000000b1")
	mint := common.HexToAddress("0xf100000000000000000000000000000000000001")

	acc, created, err := node.OpenAssociatedAccount(owner, mint)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, payment.AssociatedAccount(owner, mint), acc.Address)
	require.Equal(t, owner, acc.Owner)
	require.Equal(t, mint, acc.Mint)
	require.Zero(t, acc.Amount)

	again, created, err := node.OpenAssociatedAccount(owner, mint)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, acc.Address, again.Address)

	_, _, err = node.OpenAssociatedAccount(owner, common.Address{})
	require.ErrorIs(t, err, ErrAccountOwnerRequired)
}
