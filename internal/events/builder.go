package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/aigrc/govevents/internal/canon"
	"github.com/aigrc/govevents/internal/goldenthread"
	"github.com/aigrc/govevents/internal/identity"
)

// ProducerClass selects the event-ID derivation algorithm (§4.C3).
type ProducerClass int

const (
	// Standard producers are interactive and CI tools; IDs floor to 10ms.
	Standard ProducerClass = iota
	// HighFrequency producers are runtime/firewall tools; IDs floor to 1ms
	// and disambiguate with a monotonic local sequence.
	HighFrequency
)

// ErrDataEmpty is returned when Data has no entries.
var ErrDataEmpty = errors.New("data must have at least one entry")

// BuildError wraps a structured EVT_* failure raised during construction.
type BuildError struct {
	Code    string
	Message string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Params carries the caller-supplied fields for a new event. Category and
// Criticality are derived/defaulted by the Builder unless Criticality is
// explicitly set.
type Params struct {
	Type          string
	Source        Source
	AssetID       string
	ProducedAt    time.Time
	GoldenThread  goldenthread.Thread
	Data          map[string]any
	Criticality   string // optional override
	ParentEventID string
	CorrelationID string
	PreviousHash  string
	SchemaVersion string
}

// Builder produces validated, frozen GovernanceEvents for a single producer
// instance. A High-frequency builder owns a monotonic sequence counter used
// to disambiguate IDs within the same 1ms window.
type Builder struct {
	class ProducerClass
	seq   identity.Sequencer
}

// NewBuilder constructs a Builder for the given producer class.
func NewBuilder(class ProducerClass) *Builder {
	return &Builder{class: class}
}

func (b *Builder) build(category string, p Params) (*GovernanceEvent, error) {
	actualCategory, err := CategoryOf(p.Type)
	if err != nil {
		return nil, &BuildError{Code: "EVT_TYPE_INVALID", Message: err.Error()}
	}

	if actualCategory != category {
		return nil, &BuildError{
			Code:    "EVT_CATEGORY_MISMATCH",
			Message: fmt.Sprintf("type %q belongs to category %q, not %q", p.Type, actualCategory, category),
		}
	}

	criticality := p.Criticality
	if criticality == "" {
		criticality, err = DefaultCriticalityOf(p.Type)
		if err != nil {
			return nil, &BuildError{Code: "EVT_TYPE_INVALID", Message: err.Error()}
		}
	}

	if len(p.Data) == 0 {
		return nil, &BuildError{Code: "EVT_DATA_EMPTY", Message: ErrDataEmpty.Error()}
	}

	if err := p.GoldenThread.Validate(); err != nil {
		return nil, &BuildError{Code: "EVT_GOLDEN_THREAD_INVALID", Message: err.Error()}
	}

	schemaVersion := p.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = "aigrc-events@1.0.0"
	}

	assetID := p.AssetID
	if assetID == "" {
		assetID = AssetPlatform
	}

	id := b.deriveID(p.Source, p.Type, assetID, p.ProducedAt)

	event := &GovernanceEvent{
		ID:            id,
		SpecVersion:   SpecVersion,
		SchemaVersion: schemaVersion,
		Type:          p.Type,
		Category:      category,
		Criticality:   criticality,
		Source:        p.Source,
		OrgID:         p.Source.OrgID,
		AssetID:       assetID,
		ProducedAt:    p.ProducedAt,
		GoldenThread:  p.GoldenThread,
		PreviousHash:  p.PreviousHash,
		ParentEventID: p.ParentEventID,
		CorrelationID: p.CorrelationID,
		Data:          p.Data,
	}

	hash, err := computeHash(event)
	if err != nil {
		return nil, &BuildError{Code: "EVT_HASH_INVALID", Message: err.Error()}
	}

	event.Hash = hash

	return event, nil
}

func (b *Builder) deriveID(source Source, eventType, assetID string, producedAt time.Time) string {
	if b.class == HighFrequency {
		return identity.HighFrequency(source.InstanceID, eventType, assetID, producedAt, b.seq.Next())
	}

	return identity.Standard(source.OrgID, source.Tool, eventType, assetID, producedAt)
}

// computeHash renders the event's canonical map and hashes it per §4.C2,
// excluding {hash, signature, receivedAt}.
func computeHash(e *GovernanceEvent) (string, error) {
	m := e.ToMap()

	bytes, err := canon.Canonicalize(m)
	if err != nil {
		return "", err
	}

	return canon.Hash(bytes), nil
}

// NewAssetEvent builds a frozen event of an "asset" category type.
func (b *Builder) NewAssetEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryAsset, p)
}

// NewScanEvent builds a frozen event of a "scan" category type.
func (b *Builder) NewScanEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryScan, p)
}

// NewClassificationEvent builds a frozen event of a "classification" category type.
func (b *Builder) NewClassificationEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryClassification, p)
}

// NewComplianceEvent builds a frozen event of a "compliance" category type.
func (b *Builder) NewComplianceEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryCompliance, p)
}

// NewEnforcementEvent builds a frozen event of an "enforcement" category type.
func (b *Builder) NewEnforcementEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryEnforcement, p)
}

// NewLifecycleEvent builds a frozen event of a "lifecycle" category type.
func (b *Builder) NewLifecycleEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryLifecycle, p)
}

// NewPolicyEvent builds a frozen event of a "policy" category type.
func (b *Builder) NewPolicyEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryPolicy, p)
}

// NewAuditEvent builds a frozen event of an "audit" category type.
func (b *Builder) NewAuditEvent(p Params) (*GovernanceEvent, error) {
	return b.build(CategoryAudit, p)
}
