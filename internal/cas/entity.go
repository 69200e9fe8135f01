package cas

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id or an expected shape is absent.
	ErrNotFound = errors.New("not found")
	// ErrIdentityMismatch is returned when stored content and id disagree.
	ErrIdentityMismatch = errors.New("identity mismatch")
	// ErrUnsigned is returned when an unsigned proof is not acceptable.
	ErrUnsigned = errors.New("payload is unsigned")
)

// Entity is an object together with the id derived from its content.
type Entity[T any] struct {
	ID     string `json:"id"`
	Object T      `json:"object"`
}

// Derive computes the id of object under cfg. Pure, no I/O.
func Derive[T any](object T, cfg CidConfig) (Entity[T], error) {
	data, err := CanonicalJSON(object)
	if err != nil {
		return Entity[T]{}, fmt.Errorf("canonicalize: %w", err)
	}
	id, err := HashBytes(data, cfg)
	if err != nil {
		return Entity[T]{}, err
	}
	return Entity[T]{ID: id, Object: object}, nil
}

// ProofKind distinguishes an implicit local-authority proof from a real one.
type ProofKind int

const (
	ProofUnsigned ProofKind = iota
	ProofSigned
)

func (k ProofKind) String() string {
	if k == ProofSigned {
		return "signed"
	}
	return "unsigned"
}

// Proof is the signature block of a Signed envelope. The zero value is the
// unsigned proof and serializes as {"signature":"","type":""}.
type Proof struct {
	Signature string `json:"signature"`
	Type      string `json:"type"`
}

// Kind reports whether the proof carries a signature.
func (p Proof) Kind() ProofKind {
	if p.Signature == "" {
		return ProofUnsigned
	}
	return ProofSigned
}

// Signed wraps a payload with its proof. Hashing a Signed value covers the proof.
type Signed[T any] struct {
	Proof   Proof `json:"proof"`
	Payload T     `json:"payload"`
}

// Signer produces a signature over canonical payload bytes.
type Signer interface {
	Sign(payload []byte) (signature string, scheme string, err error)
}

// Verifier checks a signature over canonical payload bytes.
type Verifier interface {
	Verify(payload []byte, proof Proof) error
}

// Sign wraps object with an unsigned proof without mutating it.
func Sign[T any](object T) Signed[T] {
	return Signed[T]{Payload: object}
}

// SignWith wraps object with a proof produced by s.
func SignWith[T any](object T, s Signer) (Signed[T], error) {
	data, err := CanonicalJSON(object)
	if err != nil {
		return Signed[T]{}, fmt.Errorf("canonicalize: %w", err)
	}
	sig, scheme, err := s.Sign(data)
	if err != nil {
		return Signed[T]{}, fmt.Errorf("sign: %w", err)
	}
	return Signed[T]{Proof: Proof{Signature: sig, Type: scheme}, Payload: object}, nil
}

// Verify checks the proof of s. Unsigned proofs pass only when allowUnsigned.
func Verify[T any](s Signed[T], v Verifier, allowUnsigned bool) error {
	if s.Proof.Kind() == ProofUnsigned {
		if allowUnsigned {
			return nil
		}
		return ErrUnsigned
	}
	if v == nil {
		return fmt.Errorf("no verifier for proof type %q", s.Proof.Type)
	}
	data, err := CanonicalJSON(s.Payload)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	return v.Verify(data, s.Proof)
}

// DeriveSecured signs object with the unsigned proof and derives its entity.
func DeriveSecured[T any](object T, cfg CidConfig) (Entity[Signed[T]], error) {
	return Derive(Sign(object), cfg)
}

// ExtractSignedPayload returns the payload of an {id, object:{proof, payload}}
// document, or ErrNotFound when either shape is missing.
func ExtractSignedPayload(entity []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entity, &fields); err != nil {
		return nil, fmt.Errorf("signed payload: %w", ErrNotFound)
	}
	_, hasID := fields["id"]
	object, hasObject := fields["object"]
	if !hasID || !hasObject {
		return nil, fmt.Errorf("entity shape: %w", ErrNotFound)
	}
	return UnwrapSigned(object)
}

// UnwrapSigned returns the payload of a {proof, payload} object.
func UnwrapSigned(object []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(object, &fields); err != nil {
		return nil, fmt.Errorf("signed payload: %w", ErrNotFound)
	}
	_, hasProof := fields["proof"]
	payload, hasPayload := fields["payload"]
	if !hasProof || !hasPayload {
		return nil, fmt.Errorf("signed shape: %w", ErrNotFound)
	}
	return payload, nil
}
