package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rwastaking/crypto"
)

var (
	stakingPositionPrefix   = []byte("staking/position/")
	stakingOwnerIndexPrefix = []byte("staking/owner/")
	stakingEpochPrefix      = []byte("staking/epoch/")
	stakingEpochCountKey    = []byte("staking/epoch-count")
	stakingPoolKey          = []byte("staking/pool")
	stakingTotalsKey        = []byte("staking/totals")
	stateVersionKey         = []byte("state/version")
)

func assetHash(assetID string) []byte {
	return ethcrypto.Keccak256([]byte(assetID))
}

func stakingPositionKey(assetID string) []byte {
	return append(append([]byte(nil), stakingPositionPrefix...), assetHash(assetID)...)
}

func stakingOwnerPrefix(owner crypto.Address) []byte {
	return append(append([]byte(nil), stakingOwnerIndexPrefix...), owner[:]...)
}

func stakingOwnerKey(owner crypto.Address, assetID string) []byte {
	return append(stakingOwnerPrefix(owner), assetHash(assetID)...)
}

func stakingEpochKey(index uint64) []byte {
	key := append([]byte(nil), stakingEpochPrefix...)
	return binary.BigEndian.AppendUint64(key, index)
}
