package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ed25519Scheme is the single-signer authentication scheme byte appended to
// the public key before hashing.
const ed25519Scheme = 0x00

// AddressFromPublicKey derives the account address of an ed25519 key:
// sha3-256(pubkey || scheme), hex encoded with a 0x prefix.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{ed25519Scheme})
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// NormalizeAddress lower-cases an address and ensures the 0x prefix.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}
