package proposals

import (
	"errors"
	"fmt"
	"sort"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/store"
)

// Kind tells which provider governs a stored proposal.
type Kind string

const (
	KindCouncil Kind = "council"
	KindOwner   Kind = "owner"
)

// Record is the persisted form of a proposal.
type Record struct {
	Kind     Kind           `json:"kind"`
	Proposal evees.Proposal `json:"proposal"`
	Manifest Manifest       `json:"manifest"`
	Executed bool           `json:"executed"`
}

// Store keeps proposals and votes in the bbolt database of an evees directory.
type Store struct {
	db *store.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *store.DB) *Store { return &Store{db: db} }

// Save writes rec and indexes it under its target perspective.
func (s *Store) Save(rec Record) error {
	if err := s.db.PutJSON(store.BucketProposals, rec.Proposal.ID, rec); err != nil {
		return fmt.Errorf("save proposal %s: %w", rec.Proposal.ID, err)
	}
	return s.db.SetPut(store.BucketProposalsTo, rec.Proposal.ToPerspectiveID, rec.Proposal.ID, "1")
}

// Get returns the record of id.
func (s *Store) Get(id string) (Record, error) {
	var rec Record
	err := s.db.GetJSON(store.BucketProposals, id, &rec)
	if errors.Is(err, store.ErrKeyNotFound) {
		return rec, evees.NotFound(id, cas.ErrNotFound)
	}
	return rec, err
}

// ListTo returns the ids of proposals targeting perspectiveID.
func (s *Store) ListTo(perspectiveID string) ([]string, error) {
	members, err := s.db.SetMembers(store.BucketProposalsTo, perspectiveID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetVote records member's vote on id, replacing any earlier vote.
func (s *Store) SetVote(id, member string, v VoteValue) error {
	return s.db.SetPut(store.BucketVotes, id, member, string(v))
}

// Votes returns member -> vote for id.
func (s *Store) Votes(id string) (map[string]VoteValue, error) {
	members, err := s.db.SetMembers(store.BucketVotes, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]VoteValue, len(members))
	for member, v := range members {
		out[member] = VoteValue(v)
	}
	return out, nil
}
