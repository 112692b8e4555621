package bft

import (
	"time"

	"trv-chain/pkg/core"
	"trv-chain/pkg/slashing"
)

// TimeoutPropose/Prevote/Precommit implement the per-round timeout
// schedule.
func TimeoutPropose(round uint32) time.Duration {
	return core.TimeoutProposeBase + core.TimeoutProposeStep*time.Duration(round)
}

func TimeoutPrevote(round uint32) time.Duration {
	return core.TimeoutPrevoteBase + core.TimeoutPrevoteStep*time.Duration(round)
}

func TimeoutPrecommit(round uint32) time.Duration {
	return core.TimeoutPrecommitBase + core.TimeoutPrecommitStep*time.Duration(round)
}

// Deadline returns the timeout duration for entering step at round.
func Deadline(step Step, round uint32) time.Duration {
	switch step {
	case StepPropose:
		return TimeoutPropose(round)
	case StepPrevote:
		return TimeoutPrevote(round)
	case StepPrecommit:
		return TimeoutPrecommit(round)
	default:
		return 0
	}
}

// roundVotes holds prevotes and precommits seen for one round, keyed by
// voter, so a second differing vote from the same voter at the same
// (height, round, step) is detectable as a double-sign.
type roundVotes struct {
	prevotes   map[core.Address]Vote
	precommits map[core.Address]Vote
}

func newRoundVotes() *roundVotes {
	return &roundVotes{prevotes: make(map[core.Address]Vote), precommits: make(map[core.Address]Vote)}
}

// Machine is the pure BFT state machine. It consumes proposals,
// votes, and timeout-expiry notifications and emits Actions; it performs
// no I/O itself.
type Machine struct {
	Height uint64
	Round  uint32
	Step   Step

	LockedBlock *core.Block
	LockedRound int64 // -1 = no lock

	ValidBlock *core.Block
	ValidRound int64 // -1 = none

	votes     map[uint32]*roundVotes     // round -> votes
	proposals map[uint32]*core.Block     // round -> proposed block (by-hash lookup goes through byHash below)
	byHash    map[uint32]map[core.Hash]*core.Block
}

// New returns the initial state machine: (0, 0, Propose, no lock, no
// valid block).
func New() *Machine {
	return &Machine{
		LockedRound: -1,
		ValidRound:  -1,
		votes:       make(map[uint32]*roundVotes),
		proposals:   make(map[uint32]*core.Block),
		byHash:      make(map[uint32]map[core.Hash]*core.Block),
	}
}

func (m *Machine) votesFor(round uint32) *roundVotes {
	rv, ok := m.votes[round]
	if !ok {
		rv = newRoundVotes()
		m.votes[round] = rv
	}
	return rv
}

func (m *Machine) resetForHeight(height uint64) {
	m.Height = height
	m.Round = 0
	m.Step = StepPropose
	m.LockedBlock = nil
	m.LockedRound = -1
	m.ValidBlock = nil
	m.ValidRound = -1
	m.votes = make(map[uint32]*roundVotes)
	m.proposals = make(map[uint32]*core.Block)
	m.byHash = make(map[uint32]map[core.Hash]*core.Block)
}

// EnterNewRound starts (m.Height, m.Round): determines the proposer and,
// if this node is it, emits ActionProposeBlock (re-proposing ValidBlock
// when one is locked in, step 1), plus a ScheduleTimeout(Propose)
// for every participant. Callers invoke it once at genesis and again
// after every height/round advance.
func (m *Machine) EnterNewRound(ctx RoundContext) []Action {
	m.Step = StepPropose
	var actions []Action
	actions = append(actions, Action{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPropose})

	proposer, ok := ctx.Proposer(m.Height, m.Round)
	if !ok || proposer != ctx.Self {
		return actions
	}
	if m.ValidBlock != nil {
		actions = append(actions, Action{
			Kind: ActionProposeBlock, Height: m.Height, Round: m.Round,
			Reuse: m.ValidBlock, ValidRound: m.ValidRound,
		})
	} else {
		actions = append(actions, Action{Kind: ActionProposeBlock, Height: m.Height, Round: m.Round, ValidRound: -1})
	}
	return actions
}

// OnProposal handles a received (or self-built) proposal: it applies
// the propose and prevote steps together with the locking rule.
func (m *Machine) OnProposal(p Proposal, ctx RoundContext) []Action {
	if p.Height != m.Height || p.Round != m.Round || m.Step != StepPropose {
		return nil
	}
	expected, ok := ctx.Proposer(m.Height, m.Round)
	if !ok || p.Proposer != expected {
		return nil // ProtocolError — dropped locally,
	}

	hash := p.Block.Hash()
	m.proposals[p.Round] = p.Block
	if m.byHash[p.Round] == nil {
		m.byHash[p.Round] = make(map[core.Hash]*core.Block)
	}
	m.byHash[p.Round][hash] = p.Block

	accept := m.LockedBlock == nil
	if !accept && m.LockedBlock.Hash() == hash {
		accept = true
	}
	if !accept && p.ValidRound >= 0 && p.ValidRound >= m.LockedRound {
		// Locking rule: accept a re-proposal only if we ourselves
		// observed a quorum of prevotes for this exact block at the
		// claimed valid round.
		if rv, ok := m.votes[uint32(p.ValidRound)]; ok {
			if m.tallyNonNil(rv.prevotes, ctx)[hash] > ctx.QuorumThreshold() {
				accept = true
			}
		}
	}

	var vote Vote
	if accept {
		vote = Vote{Height: m.Height, Round: m.Round, Step: VotePrevote, BlockHash: hash, Voter: ctx.Self}
	} else {
		vote = Vote{Height: m.Height, Round: m.Round, Step: VotePrevote, Voter: ctx.Self}
	}

	m.Step = StepPrevote
	actions := []Action{
		{Kind: ActionCastVote, Vote: vote},
		{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPrevote},
	}
	// Casting our own vote is itself an input to the tally.
	actions = append(actions, m.OnVote(vote, ctx)...)
	return actions
}

// OnVote records a prevote or precommit, detects double-signing, and
// advances the step/round/height when a quorum forms.
func (m *Machine) OnVote(v Vote, ctx RoundContext) []Action {
	if v.Height != m.Height {
		return nil
	}
	rv := m.votesFor(v.Round)

	var pool map[core.Address]Vote
	if v.Step == VotePrevote {
		pool = rv.prevotes
	} else {
		pool = rv.precommits
	}

	var actions []Action
	if existing, ok := pool[v.Voter]; ok {
		if !existing.IsNil() && !v.IsNil() && existing.BlockHash != v.BlockHash {
			ev := slashing.Evidence{
				Offender: v.Voter, Kind: slashing.DoubleSign, Height: v.Height,
				Detail: doubleSignDetail(v.Height, v.Round, v.Step),
			}
			ev.Hash = ev.ComputeHash()
			actions = append(actions, Action{Kind: ActionEmitEvidence, Evidence: ev})
		}
		return actions // keep the first-seen vote for tallying purposes
	}
	pool[v.Voter] = v

	switch v.Step {
	case VotePrevote:
		if v.Round == m.Round && m.Step == StepPrevote {
			actions = append(actions, m.tryPrevoteQuorum(v.Round, ctx)...)
		}
	case VotePrecommit:
		actions = append(actions, m.tryPrecommitQuorum(v.Round, ctx)...)
	}
	return actions
}

func (m *Machine) tallyNonNil(pool map[core.Address]Vote, ctx RoundContext) map[core.Hash]uint64 {
	tally := make(map[core.Hash]uint64)
	for voter, v := range pool {
		if v.IsNil() {
			continue
		}
		tally[v.BlockHash] += ctx.VotingPower[voter]
	}
	return tally
}

func (m *Machine) tryPrevoteQuorum(round uint32, ctx RoundContext) []Action {
	rv := m.votesFor(round)
	threshold := ctx.QuorumThreshold()

	tally := m.tallyNonNil(rv.prevotes, ctx)
	for hash, power := range tally {
		if power > threshold {
			block := m.byHash[round][hash]
			m.ValidBlock = block
			m.ValidRound = int64(round)
			m.LockedBlock = block
			m.LockedRound = int64(round)
			m.Step = StepPrecommit
			vote := Vote{Height: m.Height, Round: m.Round, Step: VotePrecommit, BlockHash: hash, Voter: ctx.Self}
			actions := []Action{
				{Kind: ActionCastVote, Vote: vote},
				{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPrecommit},
			}
			return append(actions, m.OnVote(vote, ctx)...)
		}
	}

	var nilPower uint64
	for voter, v := range rv.prevotes {
		if v.IsNil() {
			nilPower += ctx.VotingPower[voter]
		}
	}
	if nilPower > threshold {
		m.Step = StepPrecommit
		vote := Vote{Height: m.Height, Round: m.Round, Step: VotePrecommit, Voter: ctx.Self}
		actions := []Action{
			{Kind: ActionCastVote, Vote: vote},
			{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPrecommit},
		}
		return append(actions, m.OnVote(vote, ctx)...)
	}
	return nil
}

func (m *Machine) tryPrecommitQuorum(round uint32, ctx RoundContext) []Action {
	rv := m.votesFor(round)
	threshold := ctx.QuorumThreshold()
	tally := m.tallyNonNil(rv.precommits, ctx)
	for hash, power := range tally {
		if power > threshold {
			block := m.byHash[round][hash]
			if block == nil {
				continue
			}
			var voters []core.Address
			for voter, v := range rv.precommits {
				if !v.IsNil() && v.BlockHash == hash {
					voters = append(voters, voter)
				}
			}
			committed := m.Height
			actions := []Action{{Kind: ActionCommitBlock, Block: block, Height: committed, Round: round, Voters: voters}}
			m.resetForHeight(m.Height + 1)
			return actions
		}
	}
	return nil
}

// OnTimeout handles the expiry of a previously-scheduled timeout.
// Stale timeouts (for a height/round/step we've already
// left) are no-ops, matching the "canceled timers are no-ops" rule.
func (m *Machine) OnTimeout(height uint64, round uint32, step Step, ctx RoundContext) []Action {
	if height != m.Height || round != m.Round || step != m.Step {
		return nil
	}
	switch step {
	case StepPropose:
		m.Step = StepPrevote
		vote := Vote{Height: m.Height, Round: m.Round, Step: VotePrevote, Voter: ctx.Self}
		actions := []Action{
			{Kind: ActionCastVote, Vote: vote},
			{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPrevote},
		}
		return append(actions, m.OnVote(vote, ctx)...)
	case StepPrevote:
		m.Step = StepPrecommit
		vote := Vote{Height: m.Height, Round: m.Round, Step: VotePrecommit, Voter: ctx.Self}
		actions := []Action{
			{Kind: ActionCastVote, Vote: vote},
			{Kind: ActionScheduleTimeout, Height: m.Height, Round: m.Round, TimeoutStep: StepPrecommit},
		}
		return append(actions, m.OnVote(vote, ctx)...)
	case StepPrecommit:
		m.Round++
		return m.EnterNewRound(ctx)
	default:
		return nil
	}
}

func doubleSignDetail(height uint64, round uint32, step VoteType) string {
	stepName := "prevote"
	if step == VotePrecommit {
		stepName = "precommit"
	}
	return core.SumSHA256([]byte(stepName), heightBytes(height), roundBytes(round)).Hex()
}

func heightBytes(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * i))
	}
	return b
}

func roundBytes(r uint32) []byte {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = byte(r >> (8 * i))
	}
	return b
}
