package txscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

const knownTestnetTxHex = "01000000014f226ee6c5e75ea5528219c9e98ad372fcb5cd3c9ac300d1cd25680370903dd02e0000006b483045022100e27577999098d75ae8afc04cad0253a879ef052e2776ccd9e1b921d4339a08a102203c9291d9c32ca06799d53567cb05df2ab973f4281a0a2a4bb85066e9d6964aaa41210292acdb57c788c1e8c83cdb0ae8f23e079139ba7ba1bccf67b31653c7af12c4b4ffffffff0140860100000000001976a914be83350213ab6483e111f675268b5bbaba7cdcae88ac00000000"

func TestParseHex_KnownTestnetTransaction(t *testing.T) {
	result, err := ParseHex(knownTestnetTxHex, Testnet, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"mnai8LzKea5e3C9qgrBo7JHgpiEnHKMhwR"}, result.InputAddresses)
	assert.Equal(t, []string{"mxtHrvoExpf55rts14HyyKeZc7FtwSoxY5"}, result.OutputAddresses)
	assert.ElementsMatch(t, []string{
		"mnai8LzKea5e3C9qgrBo7JHgpiEnHKMhwR",
		"mxtHrvoExpf55rts14HyyKeZc7FtwSoxY5",
	}, result.AllAddresses)
}

func TestParseHex_MalformedTransaction(t *testing.T) {
	_, err := ParseHex("deadbeef", Testnet, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedTx)
}

func TestParseHex_TxTooLarge(t *testing.T) {
	oversized := strings.Repeat("00", DefaultMaxTxSizeBytes+1)
	_, err := ParseHex(oversized, Testnet, 0)
	require.ErrorIs(t, err, model.ErrTxTooLarge)
}

func TestParseHex_ExactSizeBoundarySucceedsAsAttempt(t *testing.T) {
	// Exactly at MAX_TX_SIZE_BYTES: the size gate must not reject it (it may
	// still fail to parse as a well-formed transaction, since it's zero bytes
	// padded, but that failure must be MalformedTx, never TxTooLarge).
	atLimit := strings.Repeat("00", DefaultMaxTxSizeBytes)
	_, err := ParseHex(atLimit, Testnet, 0)
	if err != nil {
		assert.ErrorIs(t, err, model.ErrMalformedTx)
		assert.NotErrorIs(t, err, model.ErrTxTooLarge)
	}
}

func TestOutputAddress_NonP2PKHSkippedSilently(t *testing.T) {
	// OP_RETURN script, not P2PKH: should simply not match, no error.
	script := []byte{0x6a, 0x04, 0x01, 0x02, 0x03, 0x04}
	_, ok := outputAddress(script, Mainnet)
	assert.False(t, ok)
}

func TestInputAddress_RejectsWrongPubKeyLength(t *testing.T) {
	// Push a 65-byte "uncompressed" key: rule requires exactly 33 bytes.
	sig := append([]byte{0x47}, make([]byte, 0x47)...)
	pk := append([]byte{0x41}, make([]byte, 0x41)...)
	script := append(sig, pk...)
	_, ok := inputAddress(script, Mainnet)
	assert.False(t, ok)
}

func TestDisassemblePushes_RejectsNonPushOpcodes(t *testing.T) {
	// OP_DUP is not a push opcode.
	_, ok := disassemblePushes([]byte{0x76})
	assert.False(t, ok)
}

func TestParseHex_DuplicateAddressesCoalesce(t *testing.T) {
	// Same tx twice must extract identical, deduplicated address sets.
	r1, err := ParseHex(knownTestnetTxHex, Testnet, 0)
	require.NoError(t, err)
	r2, err := ParseHex(knownTestnetTxHex, Testnet, 0)
	require.NoError(t, err)
	assert.Equal(t, r1.TxID, r2.TxID)
	assert.Equal(t, r1.AllAddresses, r2.AllAddresses)

	// A transaction paying the same P2PKH address twice lists it once.
	const p2pkhOut = "40860100000000001976a914be83350213ab6483e111f675268b5bbaba7cdcae88ac"
	inputs := strings.TrimSuffix(knownTestnetTxHex, "01"+p2pkhOut+"00000000")
	dup, err := ParseHex(inputs+"02"+p2pkhOut+p2pkhOut+"00000000", Testnet, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"mxtHrvoExpf55rts14HyyKeZc7FtwSoxY5"}, dup.OutputAddresses)
	assert.Len(t, dup.AllAddresses, 2)
}
