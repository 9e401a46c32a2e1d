// Package graph builds the entity/claim/span/provenance row-sets (C6,
// spec §4.6) from the event stream and the judge's validated streams
// row-set. All IDs are minted by internal/canon from fixed canonical
// payloads; every row-set is ordered lexicographically by primary id.
package graph

import (
	"fmt"
	"sort"

	"github.com/ocx/flashfreeze/internal/canon"
	"github.com/ocx/flashfreeze/internal/eventlog"
)

// Tier is the epistemic strength of a claim (GLOSSARY: 0 formal, 1
// safety, 2 observed, 3 statistical, 4 hypothesis).
type Tier int

const (
	TierFormal      Tier = 0
	TierSafety      Tier = 1
	TierObserved    Tier = 2
	TierStatistical Tier = 3
	TierHypothesis  Tier = 4
)

// ObjectType enumerates a claim's object kind.
type ObjectType string

const (
	ObjectEntity          ObjectType = "entity"
	ObjectLiteralString   ObjectType = "literal:string"
	ObjectLiteralInteger  ObjectType = "literal:integer"
	ObjectLiteralDecimal  ObjectType = "literal:decimal"
	ObjectLiteralBoolean  ObjectType = "literal:boolean"
)

// Entity is one row of graph/entities.
type Entity struct {
	EntityID  string
	Namespace string
	Label     string
	Type      string
}

// Claim is one row of graph/claims.
type Claim struct {
	ClaimID    string
	Subject    string
	Predicate  string
	Object     string
	ObjectType ObjectType
	Tier       Tier
}

// Span is one row of evidence/spans: the verbatim byte slice of the
// originating events.jsonl line, never reserialized.
type Span struct {
	SpanID     string
	SourceHash string
	ByteStart  int64
	ByteEnd    int64
	Text       string
}

// Provenance is one row of graph/provenance, linking a claim to its span.
type Provenance struct {
	ProvenanceID string
	ClaimID      string
	SpanID       string
	SourceHash   string
	ByteStart    int64
	ByteEnd      int64
}

// Graph is the full set of emitted rows, each already sorted
// lexicographically by primary id (spec §4.6).
type Graph struct {
	Entities    []Entity
	Claims      []Claim
	Spans       []Span
	Provenances []Provenance
}

// Build emits one entity/claim/span/provenance row group per event, per
// spec §4.6: an entity row for the frame, a claim row per structured
// fact the event encodes, a span row over its source line, and a
// provenance row linking the two.
func Build(events []eventlog.Event, spans []eventlog.Span, eventsBytes []byte, sourceHash string) Graph {
	var g Graph

	for i, ev := range events {
		sp := spans[i]
		frameLabel := fmt.Sprintf("%d", ev.FrameID)
		entityPayload := []byte("frame|" + frameLabel)
		entityID := canon.MintEntity(entityPayload)
		g.Entities = append(g.Entities, Entity{
			EntityID:  entityID,
			Namespace: "frame",
			Label:     frameLabel,
			Type:      "frame",
		})

		text := string(eventsBytes[sp.Start:sp.End])
		spanPayload := []byte(fmt.Sprintf("%s|%d|%d", sourceHash, sp.Start, sp.End))
		spanID := canon.MintSpan(spanPayload)
		g.Spans = append(g.Spans, Span{
			SpanID:     spanID,
			SourceHash: sourceHash,
			ByteStart:  sp.Start,
			ByteEnd:    sp.End,
			Text:       text,
		})

		predicate, tier := factFor(ev.Kind)
		claimPayload := []byte(fmt.Sprintf("%s|%s|%s|%d", entityID, predicate, frameLabel, tier))
		claimID := canon.MintClaim(claimPayload)
		g.Claims = append(g.Claims, Claim{
			ClaimID:    claimID,
			Subject:    entityID,
			Predicate:  predicate,
			Object:     frameLabel,
			ObjectType: ObjectLiteralInteger,
			Tier:       tier,
		})

		provPayload := []byte(fmt.Sprintf("%s|%s|%s", claimID, spanID, sourceHash))
		provID := canon.MintProvenance(provPayload)
		g.Provenances = append(g.Provenances, Provenance{
			ProvenanceID: provID,
			ClaimID:      claimID,
			SpanID:       spanID,
			SourceHash:   sourceHash,
			ByteStart:    sp.Start,
			ByteEnd:      sp.End,
		})
	}

	sortEntities(g.Entities)
	sortClaims(g.Claims)
	sortSpans(g.Spans)
	sortProvenances(g.Provenances)
	return g
}

// factFor maps an event kind to its claim predicate and tier:
// safety_trigger → "triggered" at tier 1, observation → "observed" at
// tier 2, any other kind → "noted" at tier 4. Build uses the frame_id
// (an integer literal) as the claim's object for every kind.
func factFor(kind eventlog.Kind) (predicate string, tier Tier) {
	switch kind {
	case eventlog.KindSafetyTrigger:
		return "triggered", TierSafety
	case eventlog.KindObservation:
		return "observed", TierObserved
	default:
		return "noted", TierHypothesis
	}
}

func sortEntities(rows []Entity) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].EntityID < rows[j].EntityID })
}

func sortClaims(rows []Claim) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ClaimID < rows[j].ClaimID })
}

func sortSpans(rows []Span) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].SpanID < rows[j].SpanID })
}

func sortProvenances(rows []Provenance) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProvenanceID < rows[j].ProvenanceID })
}
