package genesis

import (
	"path/filepath"
	"testing"

	"trv-chain/pkg/core"
)

func validFile(t *testing.T) *File {
	t.Helper()
	var treasury core.Address
	treasury[0] = 0xAA
	f := New("trv-testnet", 1_700_000_000, treasury)
	f.AddValidator("deadbeef", 2_000_000, 500, "NoLock")
	f.AddAccount("cafebabe", 1_000_000_000)
	return f
}

func TestSeal_ProducesDeterministicHash(t *testing.T) {
	f1 := validFile(t)
	if err := f1.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	f2 := validFile(t)
	if err := f2.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if f1.GenesisHash != f2.GenesisHash {
		t.Fatalf("expected identical genesis files to hash identically, got %s vs %s", f1.GenesisHash, f2.GenesisHash)
	}
	if f1.GenesisHash == "" {
		t.Fatalf("expected a non-empty genesis_hash")
	}
}

func TestSeal_ChangingAccountsChangesHash(t *testing.T) {
	f1 := validFile(t)
	if err := f1.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	f2 := validFile(t)
	f2.AddAccount("f00d", 42)
	if err := f2.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if f1.GenesisHash == f2.GenesisHash {
		t.Fatalf("expected different account lists to produce different hashes")
	}
}

func TestValidate_RejectsEmptyValidatorList(t *testing.T) {
	var treasury core.Address
	f := New("trv-testnet", 1_700_000_000, treasury)
	if err := f.Validate(); err == nil {
		t.Fatalf("expected an empty validator list to be rejected")
	}
}

func TestValidate_RejectsDuplicatePubkey(t *testing.T) {
	f := validFile(t)
	f.AddValidator("deadbeef", 3_000_000, 100, "NoLock")
	if err := f.Validate(); err == nil {
		t.Fatalf("expected a duplicate validator pubkey to be rejected")
	}
}

func TestValidate_RejectsZeroSelfStake(t *testing.T) {
	var treasury core.Address
	f := New("trv-testnet", 1_700_000_000, treasury)
	f.AddValidator("deadbeef", 0, 500, "NoLock")
	if err := f.Validate(); err == nil {
		t.Fatalf("expected zero self_stake to be rejected")
	}
}

func TestValidate_RejectsCommissionOverMax(t *testing.T) {
	var treasury core.Address
	f := New("trv-testnet", 1_700_000_000, treasury)
	f.AddValidator("deadbeef", 1_000_000, 10001, "NoLock")
	if err := f.Validate(); err == nil {
		t.Fatalf("expected commission_bps > 10000 to be rejected")
	}
}

func TestValidate_RejectsUnknownTierForSchema(t *testing.T) {
	var treasury core.Address
	f := New("trv-testnet", 1_700_000_000, treasury)
	f.AddValidator("deadbeef", 1_000_000, 500, "ThirtyDay")
	if err := f.Validate(); err == nil {
		t.Fatalf("expected a schema-B-only tier name to be rejected under schema A")
	}
}

func TestValidate_RejectsBadFeeBpsSum(t *testing.T) {
	f := validFile(t)
	f.ChainParams.FeeBurnBps = 1
	if err := f.Validate(); err == nil {
		t.Fatalf("expected fee bps not summing to 10000 to be rejected")
	}
}

func TestValidate_RejectsZeroEpochLength(t *testing.T) {
	f := validFile(t)
	f.ChainParams.EpochLength = 0
	if err := f.Validate(); err == nil {
		t.Fatalf("expected zero epoch_length to be rejected")
	}
}

func TestValidate_RejectsZeroBlockTime(t *testing.T) {
	f := validFile(t)
	f.ChainParams.BlockTimeMs = 0
	if err := f.Validate(); err == nil {
		t.Fatalf("expected zero block_time_ms to be rejected")
	}
}

func TestValidate_RejectsZeroMaxValidators(t *testing.T) {
	f := validFile(t)
	f.ChainParams.MaxValidators = 0
	if err := f.Validate(); err == nil {
		t.Fatalf("expected zero max_validators to be rejected")
	}
}

func TestValidate_RejectsUnknownStakingSchema(t *testing.T) {
	f := validFile(t)
	f.ChainParams.StakingSchema = "C"
	if err := f.Validate(); err == nil {
		t.Fatalf("expected an unknown staking_schema to be rejected")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	f := validFile(t)
	if err := f.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GenesisHash != f.GenesisHash {
		t.Fatalf("loaded genesis_hash = %s, want %s", loaded.GenesisHash, f.GenesisHash)
	}
	ok, err := loaded.VerifyHash()
	if err != nil {
		t.Fatalf("VerifyHash: %v", err)
	}
	if !ok {
		t.Fatalf("expected the loaded genesis file's hash to verify")
	}
}

func TestVerifyHash_DetectsTampering(t *testing.T) {
	f := validFile(t)
	if err := f.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	f.Accounts[0].Balance = 999
	ok, err := f.VerifyHash()
	if err != nil {
		t.Fatalf("VerifyHash: %v", err)
	}
	if ok {
		t.Fatalf("expected tampering with accounts after Seal to invalidate the hash")
	}
}

func TestExecParams_TranslatesChainParams(t *testing.T) {
	f := validFile(t)
	params, err := f.ExecParams()
	if err != nil {
		t.Fatalf("ExecParams: %v", err)
	}
	if params.Treasury.Hex() == "" {
		t.Fatalf("expected a nonempty treasury address")
	}
	if params.EpochLength != f.ChainParams.EpochLength {
		t.Fatalf("EpochLength = %d, want %d", params.EpochLength, f.ChainParams.EpochLength)
	}
	wantSeconds := f.ChainParams.EpochLength * f.ChainParams.BlockTimeMs / 1000
	if params.EpochLengthSeconds != wantSeconds {
		t.Fatalf("EpochLengthSeconds = %d, want %d", params.EpochLengthSeconds, wantSeconds)
	}
	if params.Fees.Fixed.Sum() != core.BpsDenominator {
		t.Fatalf("fee ratios must sum to %d", core.BpsDenominator)
	}
}
