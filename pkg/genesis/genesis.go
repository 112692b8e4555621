// Package genesis implements the genesis file format: the chain-wide
// parameter set, the initial validator and account lists, and the
// deterministic genesis_hash that seeds every node's state from the
// same starting point. ChainParams carries the fee-market and
// staking-tier configuration a proof-of-stake chain needs; the hash is
// computed over a canonical JSON encoding of every other field.
package genesis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"trv-chain/pkg/core"
	"trv-chain/pkg/exec"
	"trv-chain/pkg/fees"
	"trv-chain/pkg/staking"
)

// ChainParams is the genesis-fixed parameter set of the chain_params
// object. Every field here is immutable for the life of the chain.
type ChainParams struct {
	EpochLength          uint64 `json:"epoch_length"`
	BlockTimeMs          uint64 `json:"block_time_ms"`
	MaxValidators        uint32 `json:"max_validators"`
	BaseFeeFloor         uint64 `json:"base_fee_floor"`
	TargetGasPerBlock    uint64 `json:"target_gas_per_block"`
	ElasticityMultiplier uint64 `json:"elasticity_multiplier"`
	FeeBurnBps           uint32 `json:"fee_burn_bps"`
	FeeValidatorBps      uint32 `json:"fee_validator_bps"`
	FeeTreasuryBps       uint32 `json:"fee_treasury_bps"`
	FeeDeveloperBps      uint32 `json:"fee_developer_bps"`
	SlashBpsDoubleSign   uint32 `json:"slash_double_sign_bps"`
	SlashBpsDowntime     uint32 `json:"slash_downtime_bps"`
	SlashBpsInvalidBlock uint32 `json:"slash_invalid_block_bps"`
	StakingSchema        string `json:"staking_schema"`
	StakingBaseAPYBps    uint32 `json:"staking_base_apy_bps"`
	MinStake             uint64 `json:"min_stake"`
	JailEpochs           uint64 `json:"jail_epochs"`
	EvidenceWindowEpochs uint64 `json:"evidence_window_epochs"`
	TreasuryAddress      string `json:"treasury_address"`
}

// GenesisValidator is one entry of the validators array: a pubkey, its
// self-stake, its commission rate, and the lock tier its self-stake is
// bonded under.
type GenesisValidator struct {
	PubkeyHex     string `json:"pubkey_hex"`
	SelfStake     uint64 `json:"self_stake"`
	CommissionBps uint32 `json:"commission_bps"`
	Tier          string `json:"tier"`
}

// GenesisAccount is one entry of the accounts array: an address and
// its opening balance.
type GenesisAccount struct {
	AddressHex string `json:"address_hex"`
	Balance    uint64 `json:"balance"`
}

// File is the complete genesis document.
type File struct {
	ChainID     string             `json:"chain_id"`
	GenesisTime int64              `json:"genesis_time"`
	ChainParams ChainParams        `json:"chain_params"`
	Validators  []GenesisValidator `json:"validators"`
	Accounts    []GenesisAccount   `json:"accounts"`
	GenesisHash string             `json:"genesis_hash"`
}

// hashInput is the subset of File hashed into genesis_hash: every field
// except GenesisHash itself, marshaled as a struct (not a map) so field
// order, and therefore the hash, is fixed by the Go type rather than by
// map iteration order.
type hashInput struct {
	ChainID     string             `json:"chain_id"`
	GenesisTime int64              `json:"genesis_time"`
	ChainParams ChainParams        `json:"chain_params"`
	Validators  []GenesisValidator `json:"validators"`
	Accounts    []GenesisAccount   `json:"accounts"`
}

// DefaultChainParams returns the chain_params defaults of pkg/core's
// constant table, with staking_schema fixed at "A" per the Open
// Question decision recorded in DESIGN.md.
func DefaultChainParams(treasury core.Address) ChainParams {
	return ChainParams{
		EpochLength:          core.DefaultEpochLength,
		BlockTimeMs:          core.DefaultBlockTimeMs,
		MaxValidators:        core.DefaultMaxValidators,
		BaseFeeFloor:         core.DefaultBaseFeeFloor,
		TargetGasPerBlock:    core.DefaultTargetGasPerBlock,
		ElasticityMultiplier: core.DefaultElasticityMultiplier,
		FeeBurnBps:           core.DefaultFeeBurnBps,
		FeeValidatorBps:      core.DefaultFeeValidatorBps,
		FeeTreasuryBps:       core.DefaultFeeTreasuryBps,
		FeeDeveloperBps:      core.DefaultFeeDeveloperBps,
		SlashBpsDoubleSign:   core.SlashBpsDoubleSign,
		SlashBpsDowntime:     core.SlashBpsDowntime,
		SlashBpsInvalidBlock: core.SlashBpsInvalidBlock,
		StakingSchema:        string(staking.SchemaA),
		StakingBaseAPYBps:    500,
		MinStake:             core.DefaultMinStake,
		JailEpochs:           core.DefaultJailEpochs,
		EvidenceWindowEpochs: core.DefaultEvidenceWindowEpochs,
		TreasuryAddress:      treasury.Hex(),
	}
}

// New builds a fresh, unsealed genesis File for chainID with no
// validators or accounts yet; callers add both via AddValidator and
// AddAccount before calling Seal.
func New(chainID string, genesisTimeUnix int64, treasury core.Address) *File {
	return &File{
		ChainID:     chainID,
		GenesisTime: genesisTimeUnix,
		ChainParams: DefaultChainParams(treasury),
	}
}

// AddValidator appends a validator entry. It does not itself reject
// duplicates or invalid tiers; Validate does, once the full set is
// known, so multiple additions can be made before the first check.
func (f *File) AddValidator(pubkeyHex string, selfStake uint64, commissionBps uint32, tier string) {
	f.Validators = append(f.Validators, GenesisValidator{
		PubkeyHex: pubkeyHex, SelfStake: selfStake, CommissionBps: commissionBps, Tier: tier,
	})
}

// AddAccount appends an opening-balance account entry.
func (f *File) AddAccount(addressHex string, balance uint64) {
	f.Accounts = append(f.Accounts, GenesisAccount{AddressHex: addressHex, Balance: balance})
}

// Validate enforces the rejection rules. It must be called, and pass,
// before Seal computes the genesis_hash.
func (f *File) Validate() error {
	if len(f.Validators) == 0 {
		return fmt.Errorf("genesis: validator list must not be empty")
	}

	seen := make(map[string]bool, len(f.Validators))
	for _, v := range f.Validators {
		if seen[v.PubkeyHex] {
			return fmt.Errorf("genesis: duplicate validator pubkey %s", v.PubkeyHex)
		}
		seen[v.PubkeyHex] = true
		if v.SelfStake == 0 {
			return fmt.Errorf("genesis: validator %s has zero self_stake", v.PubkeyHex)
		}
		if v.CommissionBps > core.BpsDenominator {
			return fmt.Errorf("genesis: validator %s commission_bps %d exceeds %d", v.PubkeyHex, v.CommissionBps, core.BpsDenominator)
		}
		if _, ok := staking.Lookup(staking.Schema(f.ChainParams.StakingSchema), v.Tier); !ok {
			return fmt.Errorf("genesis: validator %s tier %q is not valid under staking_schema %q", v.PubkeyHex, v.Tier, f.ChainParams.StakingSchema)
		}
	}

	p := f.ChainParams
	feeSum := p.FeeBurnBps + p.FeeValidatorBps + p.FeeTreasuryBps + p.FeeDeveloperBps
	if feeSum != core.BpsDenominator {
		return fmt.Errorf("genesis: fee bps must sum to %d, got %d", core.BpsDenominator, feeSum)
	}
	if p.EpochLength == 0 {
		return fmt.Errorf("genesis: epoch_length must be nonzero")
	}
	if p.BlockTimeMs == 0 {
		return fmt.Errorf("genesis: block_time_ms must be nonzero")
	}
	if p.MaxValidators == 0 {
		return fmt.Errorf("genesis: max_validators must be nonzero")
	}
	if staking.Schema(p.StakingSchema) != staking.SchemaA && staking.Schema(p.StakingSchema) != staking.SchemaB {
		return fmt.Errorf("genesis: staking_schema must be \"A\" or \"B\", got %q", p.StakingSchema)
	}

	return nil
}

// Seal validates f and computes its genesis_hash, mutating
// f.GenesisHash in place. Callers must not mutate f after Seal; doing
// so invalidates the hash without recomputing it.
func (f *File) Seal() error {
	if err := f.Validate(); err != nil {
		return err
	}
	h, err := f.computeHash()
	if err != nil {
		return err
	}
	f.GenesisHash = h
	return nil
}

// computeHash implements the genesis_hash = SHA-256(canonical_json(all
// fields except genesis_hash)). Canonical here means "marshaled from a
// struct with a fixed field order," not RFC 8785 canonicalization;
// since every field in hashInput is itself a struct or slice of
// structs, never a map, encoding/json already produces a stable byte
// sequence for a given File value.
func (f *File) computeHash() (string, error) {
	input := hashInput{
		ChainID:     f.ChainID,
		GenesisTime: f.GenesisTime,
		ChainParams: f.ChainParams,
		Validators:  f.Validators,
		Accounts:    f.Accounts,
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal genesis hash input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Save writes f as indented JSON to path.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal genesis file: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads and parses a genesis file from path. It does not
// re-validate or re-verify the stored genesis_hash; callers that need
// that guarantee should call VerifyHash explicitly.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse genesis file: %w", err)
	}
	return &f, nil
}

// VerifyHash recomputes f's genesis_hash and reports whether it matches
// the stored value, catching a tampered or corrupted genesis file
// before a node starts from it.
func (f *File) VerifyHash() (bool, error) {
	want, err := f.computeHash()
	if err != nil {
		return false, err
	}
	return want == f.GenesisHash, nil
}

// ExecParams translates the genesis chain_params into the
// pkg/exec.Params a node's Executor is constructed with.
func (f *File) ExecParams() (exec.Params, error) {
	treasury, err := core.AddressFromHex(f.ChainParams.TreasuryAddress)
	if err != nil {
		return exec.Params{}, fmt.Errorf("genesis: invalid treasury_address: %w", err)
	}
	p := f.ChainParams
	return exec.Params{
		Fees: fees.Params{
			BaseFeeFloor:         p.BaseFeeFloor,
			TargetGasPerBlock:    p.TargetGasPerBlock,
			ElasticityMultiplier: p.ElasticityMultiplier,
			Fixed: fees.BpsRatios{
				BurnBps:      p.FeeBurnBps,
				ValidatorBps: p.FeeValidatorBps,
				TreasuryBps:  p.FeeTreasuryBps,
				DeveloperBps: p.FeeDeveloperBps,
			},
		},
		Treasury:           treasury,
		EpochLength:        p.EpochLength,
		EpochLengthSeconds: p.EpochLength * p.BlockTimeMs / 1000,
	}, nil
}

// Schema returns the staking schema this genesis file fixes.
func (f *File) Schema() staking.Schema {
	return staking.Schema(f.ChainParams.StakingSchema)
}
