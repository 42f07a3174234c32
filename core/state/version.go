package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"rwastaking/native/staking"
	"rwastaking/storage"
)

// StateVersion identifies the expected on-disk schema layout for the staking
// ledger. Increment this constant whenever breaking changes are made to the
// stored structure.
const StateVersion uint32 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

// ensureVersion stamps a fresh database with the current schema and rejects
// databases written by an incompatible binary.
func ensureVersion(db storage.Database) (*storedMeta, error) {
	raw, err := db.Get(stateVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		meta := &storedMeta{Name: staking.ContractName, Version: staking.ContractVersion, Schema: StateVersion}
		encoded, err := rlp.EncodeToBytes(meta)
		if err != nil {
			return nil, err
		}
		if err := db.Put(stateVersionKey, encoded); err != nil {
			return nil, fmt.Errorf("state: write version: %w", err)
		}
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read version: %w", err)
	}
	meta := new(storedMeta)
	if err := rlp.DecodeBytes(raw, meta); err != nil {
		return nil, fmt.Errorf("state: decode version: %w", err)
	}
	if meta.Name != staking.ContractName || meta.Schema != StateVersion {
		return nil, fmt.Errorf("%w: stored %s schema %d, supported %s schema %d",
			ErrStateVersionMismatch, meta.Name, meta.Schema, staking.ContractName, StateVersion)
	}
	return meta, nil
}
