package nft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"rwastaking/core/events"
	"rwastaking/crypto"
	"rwastaking/native/common"
	"rwastaking/storage"
)

var (
	ErrUnknownAsset  = errors.New("nft: unknown asset")
	ErrAssetExists   = errors.New("nft: asset already minted")
	ErrAssetLocked   = errors.New("nft: asset is locked")
	ErrAssetUnlocked = errors.New("nft: asset is not locked")
	ErrNotAssetOwner = errors.New("nft: caller does not own asset")
)

var assetPrefix = []byte("nft/asset/")

// Asset is a tokenised real-world asset tracked by the registry.
type Asset struct {
	ID         string
	Collection string
	Owner      crypto.Address
	URI        string
	Locked     bool
}

type storedAsset struct {
	ID         string
	Collection string
	Owner      [20]byte
	URI        string
	Locked     bool
}

func assetKey(id string) []byte {
	return append(append([]byte(nil), assetPrefix...), ethcrypto.Keccak256([]byte(id))...)
}

// Registry records asset ownership and custody locks. Locked assets cannot be
// transferred until released.
type Registry struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
}

// NewRegistry constructs a registry backed by db.
func NewRegistry(db storage.Database) *Registry {
	return &Registry{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil disables events.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

func (r *Registry) load(id string) (*Asset, error) {
	raw, err := r.db.Get(assetKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAsset)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("nft: decode asset %s: %w", id, err)
	}
	return &Asset{
		ID:         stored.ID,
		Collection: stored.Collection,
		Owner:      crypto.Address(stored.Owner),
		URI:        stored.URI,
		Locked:     stored.Locked,
	}, nil
}

func (r *Registry) store(asset *Asset) error {
	encoded, err := rlp.EncodeToBytes(&storedAsset{
		ID:         asset.ID,
		Collection: asset.Collection,
		Owner:      asset.Owner,
		URI:        asset.URI,
		Locked:     asset.Locked,
	})
	if err != nil {
		return err
	}
	batch := storage.NewBatch()
	batch.Put(assetKey(asset.ID), encoded)
	return r.db.Write(batch)
}

// Mint registers a new asset in collection owned by owner.
func (r *Registry) Mint(_ context.Context, collection, assetID string, owner crypto.Address, uri string) (*Asset, error) {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("nft: owner required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.load(id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetExists, id)
	} else if !errors.Is(err, ErrUnknownAsset) {
		return nil, err
	}
	asset := &Asset{ID: id, Collection: strings.TrimSpace(collection), Owner: owner, URI: strings.TrimSpace(uri)}
	if err := r.store(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// Asset returns the registry record for assetID.
func (r *Registry) Asset(_ context.Context, assetID string) (*Asset, error) {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(id)
}

// Transfer hands an unlocked asset from one owner to another.
func (r *Registry) Transfer(_ context.Context, assetID string, from, to crypto.Address) error {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.load(id)
	if err != nil {
		return err
	}
	if asset.Owner != from {
		return fmt.Errorf("%w: %s", ErrNotAssetOwner, id)
	}
	if asset.Locked {
		return fmt.Errorf("%w: %s", ErrAssetLocked, id)
	}
	asset.Owner = to
	return r.store(asset)
}

// VerifyOwner reports whether caller holds assetID. Unknown assets are not
// owned by anyone.
func (r *Registry) VerifyOwner(_ context.Context, assetID string, caller crypto.Address) (bool, error) {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.load(id)
	if errors.Is(err, ErrUnknownAsset) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return asset.Owner == caller, nil
}

// Collection returns the collection assetID was minted in.
func (r *Registry) Collection(ctx context.Context, assetID string) (string, error) {
	asset, err := r.Asset(ctx, assetID)
	if err != nil {
		return "", err
	}
	return asset.Collection, nil
}

// Lock places assetID in custody.
func (r *Registry) Lock(_ context.Context, assetID string) error {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.load(id)
	if err != nil {
		return err
	}
	if asset.Locked {
		return fmt.Errorf("%w: %s", ErrAssetLocked, id)
	}
	asset.Locked = true
	if err := r.store(asset); err != nil {
		return err
	}
	r.emitter.Emit(events.AssetCustody{AssetID: id, Owner: asset.Owner, Locked: true})
	return nil
}

// Unlock releases custody of assetID to to.
func (r *Registry) Unlock(_ context.Context, assetID string, to crypto.Address) error {
	id, err := common.NormalizeAssetID(assetID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.load(id)
	if err != nil {
		return err
	}
	if !asset.Locked {
		return fmt.Errorf("%w: %s", ErrAssetUnlocked, id)
	}
	asset.Locked = false
	asset.Owner = to
	if err := r.store(asset); err != nil {
		return err
	}
	r.emitter.Emit(events.AssetCustody{AssetID: id, Owner: to, Locked: false})
	return nil
}
