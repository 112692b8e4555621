// Package bft implements the pure 3-phase BFT state machine — Propose,
// Prevote, Precommit, Commit — with locking, valid-round re-proposal,
// timeout backoff, and double-sign evidence generation. Vote pools are
// keyed by validator identity with a required-votes quorum threshold;
// double-sign detection watches for two distinct non-nil votes from the
// same validator at one (height, round, step). The machine's entry
// points (EnterNewRound, OnProposal, OnVote, OnTimeout) each return the
// []Action to carry out and perform no I/O of their own.
package bft

import (
	"crypto/ed25519"
	"encoding/binary"

	"trv-chain/pkg/core"
	"trv-chain/pkg/slashing"
)

// Step is one of the four phases of a round.
type Step int

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "Propose"
	case StepPrevote:
		return "Prevote"
	case StepPrecommit:
		return "Precommit"
	case StepCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// VoteType distinguishes a Prevote from a Precommit message.
type VoteType int

const (
	VotePrevote VoteType = iota
	VotePrecommit
)

// Proposal is the Propose-step message.
// ValidRound is -1 when the proposer is building a fresh block; it is
// set to the stored valid_round when re-proposing a locked/valid block
// (the valid-round re-proposal rule).
type Proposal struct {
	Height     uint64
	Round      uint32
	Block      *core.Block
	ValidRound int64
	Proposer   core.Address
}

// Vote is a Prevote or Precommit message. BlockHash is the zero hash for
// a nil vote.
type Vote struct {
	Height    uint64
	Round     uint32
	Step      VoteType
	BlockHash core.Hash
	Voter     core.Address
	Signature [core.SignatureLen]byte
}

// IsNil reports whether this vote is a nil vote.
func (v Vote) IsNil() bool { return v.BlockHash.IsZero() }

// SigningDigest is SHA-256(height_le || round_le || step || block_hash ||
// voter), the digest a vote's signature must verify against. The
// machine itself never signs or verifies — that needs a private key,
// which the pure Step function has no access to — so the driver shell
// signs outgoing votes and verifies incoming ones before feeding them
// into OnVote.
func (v Vote) SigningDigest() core.Hash {
	var heightLE [8]byte
	var roundLE [4]byte
	binary.LittleEndian.PutUint64(heightLE[:], v.Height)
	binary.LittleEndian.PutUint32(roundLE[:], v.Round)
	return core.SumSHA256(heightLE[:], roundLE[:], []byte{byte(v.Step)}, v.BlockHash[:], v.Voter[:])
}

// Sign signs the vote's signing digest with priv and sets Signature.
func (v *Vote) Sign(priv ed25519.PrivateKey) {
	digest := v.SigningDigest()
	sig := ed25519.Sign(priv, digest[:])
	copy(v.Signature[:], sig)
}

// Verify checks the vote's signature against its signing digest.
func (v Vote) Verify() bool {
	digest := v.SigningDigest()
	return ed25519.Verify(ed25519.PublicKey(v.Voter[:]), digest[:], v.Signature[:])
}

// RoundContext supplies everything the pure machine needs to know about
// the active set for one height: who can vote, their voting power, and
// which pubkey is this node's own (for deciding whether to propose).
// Supplied by the impure driver shell from a read-only validator-set
// snapshot.
type RoundContext struct {
	ActiveSet        []core.Address    // ranked,
	VotingPower      map[core.Address]uint64
	TotalVotingPower uint64
	Self             core.Address
}

// Proposer implements the deterministic round-robin:
// active_set[(height+round) mod |active_set|].
func (c RoundContext) Proposer(height uint64, round uint32) (core.Address, bool) {
	if len(c.ActiveSet) == 0 {
		return core.Address{}, false
	}
	idx := (height + uint64(round)) % uint64(len(c.ActiveSet))
	return c.ActiveSet[idx], true
}

// QuorumThreshold is strictly-greater-than floor(2*total/3).
func (c RoundContext) QuorumThreshold() uint64 {
	return 2 * c.TotalVotingPower / 3
}

// ActionKind tags the union of effects the machine can emit.
type ActionKind int

const (
	ActionProposeBlock ActionKind = iota
	ActionCastVote
	ActionCommitBlock
	ActionScheduleTimeout
	ActionEmitEvidence
)

// Action is one effect the driver shell must carry out. Only the fields
// relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	// ActionProposeBlock: Height/Round identify the round; if Reuse is
	// non-nil the shell must broadcast it verbatim (a valid-round
	// re-proposal) — no new block needs building. If Reuse is nil the
	// shell must build a fresh block from the mempool and feed it back
	// via Machine.OnProposal.
	Height     uint64
	Round      uint32
	Reuse      *core.Block
	ValidRound int64

	// ActionCastVote
	Vote Vote

	// ActionCommitBlock. Voters is every validator whose non-nil
	// precommit contributed to the committing quorum, so the driver
	// shell can charge every active validator NOT in this set with a
	// missed block.
	Block  *core.Block
	Voters []core.Address

	// ActionScheduleTimeout
	TimeoutStep Step

	// ActionEmitEvidence
	Evidence slashing.Evidence
}
