// Package txscript decodes raw Bitcoin SV transactions and recognizes the
// standard pay-to-public-key-hash (P2PKH) template on both sides of a
// transaction: locking scripts (outputs) and the two-item signature+pubkey
// unlocking scripts (inputs). It intentionally understands nothing else —
// widening the recognized template set is out of scope.
package txscript

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 building block, standard in the btcsuite ecosystem

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

// DefaultMaxTxSizeBytes is the MAX_TX_SIZE_BYTES default (4 MiB).
const DefaultMaxTxSizeBytes = 4 * 1024 * 1024

const compressedPubKeyLen = 33

// Result is the outcome of extracting addresses from a single transaction.
type Result struct {
	TxID            string
	InputAddresses  []string // de-duplicated, order of first appearance
	OutputAddresses []string
	AllAddresses    []string // union, de-duplicated
}

// ParseHex decodes hex-encoded raw transaction bytes and extracts the P2PKH
// addresses referenced by its inputs and outputs. maxSizeBytes <= 0 selects
// DefaultMaxTxSizeBytes.
func ParseHex(txHex string, network Network, maxSizeBytes int) (*Result, error) {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxTxSizeBytes
	}
	if len(txHex)/2 > maxSizeBytes {
		return nil, model.ErrTxTooLarge
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedTx, err)
	}
	if len(raw) > maxSizeBytes {
		return nil, model.ErrTxTooLarge
	}
	return Parse(raw, network)
}

// Parse extracts the P2PKH addresses referenced by a raw transaction's
// inputs and outputs. The txid is the double-SHA-256 of the serialized
// transaction, little-endian, rendered as lowercase hex.
func Parse(raw []byte, network Network) (*Result, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", model.ErrMalformedTx)
	}

	r := bytes.NewReader(raw)

	if _, err := readUint32LE(r); err != nil { // version
		return nil, malformed(err)
	}

	vinCount, err := readVarInt(r)
	if err != nil {
		return nil, malformed(err)
	}

	inputAddrs := newOrderedSet()
	for i := uint64(0); i < vinCount; i++ {
		if _, err := io.CopyN(io.Discard, r, 32); err != nil { // prevout txid
			return nil, malformed(err)
		}
		if _, err := readUint32LE(r); err != nil { // prevout index
			return nil, malformed(err)
		}
		scriptSig, err := readVarBytes(r)
		if err != nil {
			return nil, malformed(err)
		}
		if _, err := readUint32LE(r); err != nil { // sequence
			return nil, malformed(err)
		}
		if addr, ok := inputAddress(scriptSig, network); ok {
			inputAddrs.add(addr)
		}
	}

	voutCount, err := readVarInt(r)
	if err != nil {
		return nil, malformed(err)
	}

	outputAddrs := newOrderedSet()
	for i := uint64(0); i < voutCount; i++ {
		if _, err := io.CopyN(io.Discard, r, 8); err != nil { // value (satoshis)
			return nil, malformed(err)
		}
		scriptPubKey, err := readVarBytes(r)
		if err != nil {
			return nil, malformed(err)
		}
		if addr, ok := outputAddress(scriptPubKey, network); ok {
			outputAddrs.add(addr)
		}
	}

	if _, err := readUint32LE(r); err != nil { // locktime
		return nil, malformed(err)
	}

	txid := txIDHex(raw)

	all := newOrderedSet()
	for _, a := range inputAddrs.items {
		all.add(a)
	}
	for _, a := range outputAddrs.items {
		all.add(a)
	}

	return &Result{
		TxID:            txid,
		InputAddresses:  inputAddrs.items,
		OutputAddresses: outputAddrs.items,
		AllAddresses:    all.items,
	}, nil
}

func malformed(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated transaction", model.ErrMalformedTx)
	}
	return fmt.Errorf("%w: %v", model.ErrMalformedTx, err)
}

func txIDHex(raw []byte) string {
	h1 := sha256.Sum256(raw)
	h2 := sha256.Sum256(h1[:])
	return hex.EncodeToString(reverseBytes(h2[:]))
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// outputAddress recognizes the P2PKH locking script template:
// OP_DUP OP_HASH160 <20-byte push> OP_EQUALVERIFY OP_CHECKSIG.
func outputAddress(script []byte, network Network) (string, bool) {
	const (
		opDup         = 0x76
		opHash160     = 0xa9
		opPush20      = 0x14
		opEqualVerify = 0x88
		opCheckSig    = 0xac
	)
	if len(script) != 25 {
		return "", false
	}
	if script[0] != opDup || script[1] != opHash160 || script[2] != opPush20 ||
		script[23] != opEqualVerify || script[24] != opCheckSig {
		return "", false
	}
	return encodeAddress(script[3:23], network), true
}

// inputAddress recognizes a standard P2PKH unlocking script: exactly two
// pushed items, <sig> then a 33-byte compressed pubkey.
func inputAddress(scriptSig []byte, network Network) (string, bool) {
	items, ok := disassemblePushes(scriptSig)
	if !ok || len(items) != 2 {
		return "", false
	}
	pubKey := items[1]
	if len(pubKey) != compressedPubKeyLen {
		return "", false
	}
	return encodeAddress(hash160(pubKey), network), true
}

// disassemblePushes decodes a script consisting solely of data-push opcodes
// into their pushed byte slices. Any non-push opcode causes ok=false.
func disassemblePushes(script []byte) (items [][]byte, ok bool) {
	i := 0
	for i < len(script) {
		op := script[i]
		i++
		var length int
		switch {
		case op >= 0x01 && op <= 0x4b: // direct push
			length = int(op)
		case op == 0x4c: // OP_PUSHDATA1
			if i+1 > len(script) {
				return nil, false
			}
			length = int(script[i])
			i++
		case op == 0x4d: // OP_PUSHDATA2
			if i+2 > len(script) {
				return nil, false
			}
			length = int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2
		case op == 0x4e: // OP_PUSHDATA4
			if i+4 > len(script) {
				return nil, false
			}
			length = int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
		default:
			return nil, false
		}
		if i+length > len(script) {
			return nil, false
		}
		items = append(items, script[i:i+length])
		i += length
	}
	return items, true
}

// hash160 computes RIPEMD160(SHA256(data)).
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

// encodeAddress renders a 20-byte pubkey hash as a network-prefixed,
// Base58Check-encoded address.
func encodeAddress(pubKeyHash []byte, network Network) string {
	return base58.CheckEncode(pubKeyHash, network.versionByte())
}

func readUint32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// readVarInt reads a Bitcoin CompactSize integer.
func readVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}
	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(buf[:])), nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(buf[:])), nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	default:
		return uint64(prefix[0]), nil
	}
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// orderedSet preserves first-seen ordering while de-duplicating, matching the
// "duplicate addresses within a single transaction coalesce to set
// semantics" rule without leaving iteration order to a map.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
