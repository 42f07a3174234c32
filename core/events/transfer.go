package events

import (
	"strings"

	"github.com/holiman/uint256"

	"rwastaking/core/types"
	"rwastaking/crypto"
)

const (
	// TypeTransfer is emitted for reward-token balance movements.
	TypeTransfer = "transfer.token"
	// TypeAssetCustody is emitted when an asset is locked or released by the registry.
	TypeAssetCustody = "asset.custody"
)

type Transfer struct {
	Denom  string
	From   crypto.Address
	To     crypto.Address
	Amount *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if denom := normalizeDenom(e.Denom); denom != "" {
		attrs["denom"] = denom
	}
	attrs["from"] = e.From.String()
	attrs["to"] = e.To.String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

// AssetCustody records a lock or unlock performed by the asset registry.
type AssetCustody struct {
	AssetID string
	Owner   crypto.Address
	Locked  bool
}

func (AssetCustody) EventType() string { return TypeAssetCustody }

func (e AssetCustody) Event() *types.Event {
	state := "released"
	if e.Locked {
		state = "locked"
	}
	return &types.Event{Type: TypeAssetCustody, Attributes: map[string]string{
		"token_id": strings.TrimSpace(e.AssetID),
		"owner":    e.Owner.String(),
		"state":    state,
	}}
}
