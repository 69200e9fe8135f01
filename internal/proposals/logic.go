// Package proposals implements governance over merges: proposals record a
// workspace targeting one perspective and are replayed once accepted, either
// by a quorum of council members or by the target's owner.
package proposals

import (
	"github.com/javanhut/evees/internal/evees"
)

// VoteValue is one member's vote.
type VoteValue string

const (
	VoteUndefined VoteValue = ""
	VoteYes       VoteValue = "yes"
	VoteNo        VoteValue = "no"
)

// ParseVote accepts "yes" and "no".
func ParseVote(s string) (VoteValue, bool) {
	switch VoteValue(s) {
	case VoteYes, VoteNo:
		return VoteValue(s), true
	}
	return VoteUndefined, false
}

// Config holds the council voting rules. Duration is in clock units.
type Config struct {
	Duration  uint64  `json:"duration" yaml:"duration"`
	Quorum    float64 `json:"quorum" yaml:"quorum"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// Manifest fixes the rules a proposal is judged by when it is created.
type Manifest struct {
	Block   uint64   `json:"block"`
	Config  Config   `json:"config"`
	Members []string `json:"members"`
}

// Deadline is the first time at which the proposal is no longer pending.
func (m Manifest) Deadline() uint64 { return m.Block + m.Config.Duration }

// IsMember reports whether member may vote.
func (m Manifest) IsMember(member string) bool {
	for _, v := range m.Members {
		if v == member {
			return true
		}
	}
	return false
}

// QuorumLogic computes a proposal status from its manifest, the votes of
// every eligible member (VoteUndefined for abstentions) and the current time.
// The result depends on nothing else, so any replica reaches the same verdict.
type QuorumLogic struct {
	manifest Manifest
	votes    []VoteValue
	time     uint64
}

// NewQuorumLogic evaluates votes against manifest at time.
func NewQuorumLogic(manifest Manifest, votes []VoteValue, time uint64) *QuorumLogic {
	return &QuorumLogic{manifest: manifest, votes: votes, time: time}
}

// Votes returns the votes in member order.
func (l *QuorumLogic) Votes() []VoteValue { return l.votes }

// Status is pending until the deadline, then accepted or rejected.
func (l *QuorumLogic) Status() evees.ProposalStatus {
	if l.time < l.manifest.Deadline() {
		return evees.StatusPending
	}

	var nYes, nNo int
	for _, v := range l.votes {
		switch v {
		case VoteYes:
			nYes++
		case VoteNo:
			nNo++
		}
	}

	n := float64(len(l.votes))
	if n == 0 {
		return evees.StatusRejected
	}
	if float64(nYes+nNo)/n < l.manifest.Config.Quorum {
		return evees.StatusRejected
	}
	if float64(nYes)/n >= l.manifest.Config.Threshold {
		return evees.StatusAccepted
	}
	return evees.StatusRejected
}

// IsPending reports whether the deadline has not been reached.
func (l *QuorumLogic) IsPending() bool { return l.Status() == evees.StatusPending }

// IsApproved reports whether the proposal was accepted.
func (l *QuorumLogic) IsApproved() bool { return l.Status() == evees.StatusAccepted }
