package events

import (
	"testing"

	"github.com/holiman/uint256"

	"rwastaking/crypto"
)

func TestStakeRewardsClaimedAttributes(t *testing.T) {
	staker := crypto.ModuleAddress("test/staker")
	evt := StakeRewardsClaimed{
		AssetID: "asset-1",
		Staker:  staker,
		Rewards: uint256.NewInt(70),
		Pool:    uint256.NewInt(30),
		At:      20,
	}.Event()
	if evt.Type != TypeStakeRewardsClaimed {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	want := map[string]string{
		"action":   ActionClaim,
		"token_id": "asset-1",
		"staker":   staker.String(),
		"rewards":  "70",
		"pool":     "30",
		"at":       "20",
	}
	for k, v := range want {
		if evt.Attributes[k] != v {
			t.Fatalf("attribute %s: got %q want %q", k, evt.Attributes[k], v)
		}
	}
	if _, ok := evt.Attributes["purged"]; ok {
		t.Fatalf("purged attribute must be omitted when false")
	}
}

func TestStakeUnstakedNilAmounts(t *testing.T) {
	evt := StakeUnstaked{AssetID: "a", Purged: true}.Event()
	if evt.Attributes["accrued"] != "0" || evt.Attributes["settled"] != "0" {
		t.Fatalf("nil amounts must render as zero: %+v", evt.Attributes)
	}
	if evt.Attributes["purged"] != "true" {
		t.Fatalf("expected purged flag")
	}
}

func TestMultiAndRecorder(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	Multi{first, nil, second}.Emit(StakeRateSet{Rate: uint256.NewInt(1)})
	if got := first.Types(); len(got) != 1 || got[0] != TypeStakeRateSet {
		t.Fatalf("first recorder: %v", got)
	}
	if len(second.Events()) != 1 {
		t.Fatalf("second recorder missed the event")
	}
}

func TestTransferDenomNormalised(t *testing.T) {
	evt := Transfer{Denom: " om ", Amount: uint256.NewInt(5)}.Event()
	if evt.Attributes["denom"] != "OM" {
		t.Fatalf("denom not normalised: %q", evt.Attributes["denom"])
	}
}
