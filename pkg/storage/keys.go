package storage

import "fmt"

// Key helpers for the fixed persistence layout.

func BlockKey(height uint64) []byte    { return []byte(fmt.Sprintf("block/%d", height)) }
func HeaderKey(height uint64) []byte   { return []byte(fmt.Sprintf("header/%d", height)) }
func TxsKey(height uint64) []byte      { return []byte(fmt.Sprintf("txs/%d", height)) }
func AccountKey(pubkeyHex string) []byte {
	return []byte(fmt.Sprintf("account/%s", pubkeyHex))
}
func ValidatorKey(pubkeyHex string) []byte {
	return []byte(fmt.Sprintf("validator/%s", pubkeyHex))
}
func StakeKey(ownerHex, validatorHex string) []byte {
	return []byte(fmt.Sprintf("stake/%s/%s", ownerHex, validatorHex))
}
func EvidenceKey(hashHex string) []byte {
	return []byte(fmt.Sprintf("evidence/%s", hashHex))
}
func SnapshotKey(epoch uint64) []byte {
	return []byte(fmt.Sprintf("snapshot/%d", epoch))
}

const (
	MetaChainHead   = "meta/chain_head"
	MetaBaseFee     = "meta/base_fee"
	MetaEpoch       = "meta/epoch"
	MetaTotalSupply = "meta/total_supply"
)

var (
	BlockPrefix     = []byte("block/")
	HeaderPrefix    = []byte("header/")
	AccountPrefix   = []byte("account/")
	ValidatorPrefix = []byte("validator/")
	EvidencePrefix  = []byte("evidence/")
)
