// Package keys derives deterministic record addresses. Every record is
// located by a pure function of (type seed, owner address, caller-chosen id),
// so any party can recompute a record's address without a directory lookup.
package keys

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// Record type seeds. Each seed namespaces its record type so the same
// (owner, id) pair never collides across types.
const (
	SeedTransfer     = "transfer"
	SeedGroupPayment = "group_payment"
	SeedUserProfile  = "user_profile"
)

// Derive computes the address of a record owned by owner with a caller-chosen
// 64-bit id. The id is encoded little-endian before hashing.
func Derive(seed, owner string, id uint64) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte(owner))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	h.Write(buf[:])
	return base58.Encode(h.Sum(nil))
}

// Transfer returns the address of the transfer created by sender under
// transferID.
func Transfer(sender string, transferID uint64) string {
	return Derive(SeedTransfer, sender, transferID)
}

// GroupPayment returns the address of the group payment created by creator
// under paymentID.
func GroupPayment(creator string, paymentID uint64) string {
	return Derive(SeedGroupPayment, creator, paymentID)
}

// Profile returns the address of the unique profile record for owner.
// Profiles carry no id; one exists per owner.
func Profile(owner string) string {
	h := sha256.New()
	h.Write([]byte(SeedUserProfile))
	h.Write([]byte(owner))
	return base58.Encode(h.Sum(nil))
}
