package ledger

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/tx"
)

func TestContract_Operation(t *testing.T) {
	c := Contract{Address: "0x1", Module: ModuleName}

	op, err := c.Operation(tx.KindAutoClicker, []string{"1", "10"})
	require.NoError(t, err)
	assert.Equal(t, "0x1::cookie_clicker::buy_auto_clicker", op.Function)
	assert.Equal(t, []string{"1", "10"}, op.Args)

	fn, ok := c.EntryFunction(op.Function)
	require.True(t, ok)
	assert.Equal(t, FnBuyAutoClicker, fn)

	_, ok = c.EntryFunction("0x2::cookie_clicker::click_cookie")
	assert.False(t, ok)

	_, err = c.Operation(tx.Kind("mint"), nil)
	assert.Error(t, err)
}

func TestContract_EveryKindHasFunction(t *testing.T) {
	c := DefaultContract()
	for _, k := range tx.Kinds {
		_, err := c.Operation(k, nil)
		assert.NoError(t, err, "kind %s", k)
	}
}

func TestAddressFromPublicKey(t *testing.T) {
	pub := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)).Public().(ed25519.PublicKey)

	addr := AddressFromPublicKey(pub)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 66)
	assert.Equal(t, addr, AddressFromPublicKey(pub), "deterministic")
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeAddress(" ABC "))
	assert.Equal(t, "0xabc", NormalizeAddress("0xAbC"))
}

func TestSigningMessage_Deterministic(t *testing.T) {
	op := Operation{Function: "f", Args: []string{"1"}, Nonce: 9}
	a, err := SigningMessage("0x1", op)
	require.NoError(t, err)
	b, err := SigningMessage("0x1", op)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := SigningMessage("0x2", op)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
