// Package types defines the core data structures shared across the helper
// runtime: query identity, configuration, role assignment, and the
// per-helper query state machine.
package types

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// QueryID is an opaque 128-bit identifier, globally unique per query,
// generated by the leader at create time.
type QueryID uuid.UUID

// NewQueryID generates a fresh, random QueryID.
func NewQueryID() QueryID {
	return QueryID(uuid.New())
}

// ParseQueryID parses the canonical string form of a QueryID.
func ParseQueryID(s string) (QueryID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return QueryID{}, fmt.Errorf("parse query id %q: %w", s, err)
	}
	return QueryID(id), nil
}

func (q QueryID) String() string { return uuid.UUID(q).String() }

// Bytes returns the 16-byte representation used on the wire.
func (q QueryID) Bytes() [16]byte { return [16]byte(q) }

// QueryType enumerates the fixed, closed set of protocols the registry
// can dispatch. The set does not grow at runtime.
type QueryType string

const (
	QueryTypeIPA            QueryType = "ipa"
	QueryTypeLogistic       QueryType = "logistic"
	QueryTypeTestBooleanAnd QueryType = "test-boolean-and"
	QueryTypeTestFieldSum   QueryType = "test-field-sum"
)

// FieldKind identifies a field family. Width is only meaningful for
// FieldKindBoolean; prime fields carry their modulus in the field
// implementation itself (pkg/field).
type FieldKind string

const (
	FieldKindBoolean FieldKind = "boolean"
	FieldKindPrime   FieldKind = "prime"
)

// FieldID is a closed tag over the field×width combinations the runtime
// supports, selected at query-acceptance time.
type FieldID string

const (
	FieldBool1        FieldID = "bool1"
	FieldBool8        FieldID = "bool8"
	FieldBool20       FieldID = "bool20"
	FieldBool32       FieldID = "bool32"
	FieldBool64       FieldID = "bool64"
	FieldBool256      FieldID = "bool256"
	FieldFp31         FieldID = "fp31"
	FieldFp32BitPrime FieldID = "fp32bitprime"
)

// QueryConfig is the immutable, identically-serialized-on-all-helpers
// tuple describing one query.
type QueryConfig struct {
	Type        QueryType
	Field       FieldID
	RecordCount uint32
	// VectorWidth packs W independent values per share element, laid
	// out lane after lane for every field, boolean ones included. 1
	// means no vectorization.
	VectorWidth uint32
	// MaliciousSecurity selects the malicious validator; semi-honest
	// otherwise.
	MaliciousSecurity bool
	// Params carries per-query-type tuning values (e.g. attribution
	// window, breakdown key count) as opaque key/value pairs so the
	// registry entry for Type can interpret them without the runtime
	// needing to know every protocol's parameter shape.
	Params map[string]uint32
}

// Role is a helper's per-query position in the three-party ring. Roles
// form a directed ring: Left = predecessor, Right = successor.
type Role uint8

const (
	RoleH1 Role = iota
	RoleH2
	RoleH3
)

func (r Role) String() string {
	switch r {
	case RoleH1:
		return "H1"
	case RoleH2:
		return "H2"
	case RoleH3:
		return "H3"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole parses "H1"/"H2"/"H3" as used in URL paths.
func ParseRole(s string) (Role, error) {
	switch s {
	case "H1":
		return RoleH1, nil
	case "H2":
		return RoleH2, nil
	case "H3":
		return RoleH3, nil
	default:
		return 0, fmt.Errorf("invalid role %q", s)
	}
}

// Left returns the predecessor in the ring.
func (r Role) Left() Role { return Role((uint8(r) + 2) % 3) }

// Right returns the successor in the ring.
func (r Role) Right() Role { return Role((uint8(r) + 1) % 3) }

// AllRoles lists the ring in canonical order.
func AllRoles() [3]Role { return [3]Role{RoleH1, RoleH2, RoleH3} }

// HelperIdentity is the stable identity of a helper process, derived
// from its TLS certificate subject CN.
type HelperIdentity string

// RoleAssignment is the leader-chosen bijection HelperIdentity -> Role,
// immutable for the query's lifetime.
type RoleAssignment struct {
	assignments map[HelperIdentity]Role
	byRole      map[Role]HelperIdentity
}

// NewRoleAssignment builds a RoleAssignment from the leader and the two
// follower identities. The leader is always H1 by convention;
// the followers are assigned H2/H3 deterministically by sorted identity
// so every helper can recompute the same assignment given the same
// inputs.
func NewRoleAssignment(leader HelperIdentity, followers []HelperIdentity) (RoleAssignment, error) {
	if len(followers) != 2 {
		return RoleAssignment{}, fmt.Errorf("role assignment requires exactly 2 followers, got %d", len(followers))
	}
	sorted := append([]HelperIdentity(nil), followers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	ra := RoleAssignment{
		assignments: map[HelperIdentity]Role{
			leader:    RoleH1,
			sorted[0]: RoleH2,
			sorted[1]: RoleH3,
		},
	}
	ra.byRole = map[Role]HelperIdentity{
		RoleH1: leader,
		RoleH2: sorted[0],
		RoleH3: sorted[1],
	}
	return ra, nil
}

// RoleOf returns the role held by id, if any.
func (ra RoleAssignment) RoleOf(id HelperIdentity) (Role, bool) {
	r, ok := ra.assignments[id]
	return r, ok
}

// IdentityOf returns the helper identity holding role r.
func (ra RoleAssignment) IdentityOf(r Role) HelperIdentity {
	return ra.byRole[r]
}

// QueryStateTag is the enumerated tag of the per-query state machine.
// The payload (output shares, failure reason) is carried alongside in
// QueryState.
type QueryStateTag string

const (
	StateEmpty          QueryStateTag = "empty"
	StatePreparing       QueryStateTag = "preparing"
	StateAwaitingInputs QueryStateTag = "awaiting_inputs"
	StateRunning        QueryStateTag = "running"
	StateCompleted      QueryStateTag = "completed"
	StateFailed         QueryStateTag = "failed"
)

// FailureReason enumerates the terminal error kinds a query can fail with.
type FailureReason string

const (
	ReasonPeerUnavailable  FailureReason = "peer_unavailable"
	ReasonPrepareRejected  FailureReason = "prepare_rejected"
	ReasonBadInput         FailureReason = "bad_input"
	ReasonStepMismatch     FailureReason = "step_mismatch"
	ReasonShortStream      FailureReason = "short_stream"
	ReasonValidationFailed FailureReason = "validation_failed"
	ReasonCanceled         FailureReason = "canceled"
	ReasonTimeout          FailureReason = "timeout"
	ReasonTransportError   FailureReason = "transport_error"
)

// QueryState is the full per-helper state of one query.
type QueryState struct {
	Tag           QueryStateTag
	Config        QueryConfig
	Roles         RoleAssignment
	Self          Role
	OutputShares  []byte // populated only when Tag == StateCompleted
	FailureReason FailureReason
	FailureDetail string
}
