package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the type of an event in the log.
type Kind string

const (
	KindSubmission Kind = "SUBMISSION"
	KindConsensus  Kind = "CONSENSUS_RESULT"
	KindUnknown    Kind = "UNKNOWN"
)

// ParseKind maps a wire string to a Kind. Unrecognized values become
// KindUnknown; such events are stored and returned but never joined.
func ParseKind(s string) Kind {
	switch s {
	case string(KindSubmission):
		return KindSubmission
	case string(KindConsensus):
		return KindConsensus
	default:
		return KindUnknown
	}
}

// SubmissionPayload is the typed payload of a SUBMISSION event.
type SubmissionPayload struct {
	// LeadIdentifier is the human-facing identifier of the submitted lead
	// (name, email or company). Searchable by substring only.
	LeadIdentifier string `json:"lead_identifier"`

	// Source is the miner-reported origin of the lead, if any.
	Source string `json:"source,omitempty"`
}

// ConsensusPayload is the typed payload of a CONSENSUS_RESULT event.
type ConsensusPayload struct {
	// EpochID is the validation epoch the decision belongs to. It lives
	// inside the payload and is not indexable at the store level.
	EpochID int64 `json:"epoch_id"`

	// Decision is the raw decision string as written by the validator set
	// (e.g. "approved", "REJECTED"). Normalized downstream.
	Decision string `json:"decision"`

	// Score is the final consensus score for the lead.
	Score float64 `json:"final_score"`

	// RejectionReason is a reason code, present only on rejections.
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Event is a single immutable record in the append-only log.
//
// Exactly one of Submission/Consensus is non-nil, matching Kind. The payload
// is decoded once at the store boundary; downstream code never sees raw JSON.
type Event struct {
	Timestamp  time.Time
	Kind       Kind
	ContentKey string
	ActorKey   string

	Submission *SubmissionPayload
	Consensus  *ConsensusPayload
}

// wireEvent is the JSON envelope used on disk and over HTTP.
type wireEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	Kind       string          `json:"event_kind"`
	ContentKey string          `json:"content_key,omitempty"`
	ActorKey   string          `json:"actor_key,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the event with its kind-specific payload.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Timestamp:  e.Timestamp,
		Kind:       string(e.Kind),
		ContentKey: e.ContentKey,
		ActorKey:   e.ActorKey,
	}

	var payload interface{}
	switch e.Kind {
	case KindSubmission:
		payload = e.Submission
	case KindConsensus:
		payload = e.Consensus
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		w.Payload = raw
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the event, dispatching the payload union on Kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.Timestamp = w.Timestamp
	e.Kind = ParseKind(w.Kind)
	e.ContentKey = w.ContentKey
	e.ActorKey = w.ActorKey
	e.Submission = nil
	e.Consensus = nil

	if len(w.Payload) == 0 {
		return nil
	}

	switch e.Kind {
	case KindSubmission:
		var p SubmissionPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return fmt.Errorf("decode submission payload: %w", err)
		}
		e.Submission = &p
	case KindConsensus:
		var p ConsensusPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return fmt.Errorf("decode consensus payload: %w", err)
		}
		e.Consensus = &p
	}

	return nil
}

// Identity distinguishes events that share a timestamp: a hash over kind,
// content key and actor key. The storage key carries it as a suffix, and
// cursor resumption uses it to drop rows already consumed at a boundary
// nanosecond.
func Identity(e Event) uint64 {
	return xxhash.Sum64String(string(e.Kind) + "\x00" + e.ContentKey + "\x00" + e.ActorKey)
}

// LeadIdentifier returns the submission's lead identifier, or "" for other kinds.
func (e Event) LeadIdentifier() string {
	if e.Submission != nil {
		return e.Submission.LeadIdentifier
	}
	return ""
}

// EpochID returns the consensus epoch id and whether one is present.
func (e Event) EpochID() (int64, bool) {
	if e.Consensus != nil {
		return e.Consensus.EpochID, true
	}
	return 0, false
}
