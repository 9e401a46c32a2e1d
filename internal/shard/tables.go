package shard

import (
	"github.com/ocx/flashfreeze/internal/columnar"
	"github.com/ocx/flashfreeze/internal/graph"
	"github.com/ocx/flashfreeze/internal/judge"
)

var entitySchema = columnar.Schema{
	Name: "entities",
	Fields: []columnar.Field{
		{Name: "entity_id", Kind: columnar.FieldString},
		{Name: "namespace", Kind: columnar.FieldString},
		{Name: "label", Kind: columnar.FieldString},
		{Name: "type", Kind: columnar.FieldString},
	},
}

var claimSchema = columnar.Schema{
	Name: "claims",
	Fields: []columnar.Field{
		{Name: "claim_id", Kind: columnar.FieldString},
		{Name: "subject", Kind: columnar.FieldString},
		{Name: "predicate", Kind: columnar.FieldString},
		{Name: "object", Kind: columnar.FieldString},
		{Name: "object_type", Kind: columnar.FieldString},
		{Name: "tier", Kind: columnar.FieldUint64},
	},
}

var provenanceSchema = columnar.Schema{
	Name: "provenance",
	Fields: []columnar.Field{
		{Name: "provenance_id", Kind: columnar.FieldString},
		{Name: "claim_id", Kind: columnar.FieldString},
		{Name: "span_id", Kind: columnar.FieldString},
		{Name: "source_hash", Kind: columnar.FieldString},
		{Name: "byte_start", Kind: columnar.FieldInt64},
		{Name: "byte_end", Kind: columnar.FieldInt64},
	},
}

var spanSchema = columnar.Schema{
	Name: "spans",
	Fields: []columnar.Field{
		{Name: "span_id", Kind: columnar.FieldString},
		{Name: "source_hash", Kind: columnar.FieldString},
		{Name: "byte_start", Kind: columnar.FieldInt64},
		{Name: "byte_end", Kind: columnar.FieldInt64},
		{Name: "text", Kind: columnar.FieldString},
	},
}

var streamSchema = columnar.Schema{
	Name: "streams",
	Fields: []columnar.Field{
		{Name: "frame_id", Kind: columnar.FieldUint64},
		{Name: "stream", Kind: columnar.FieldString},
		{Name: "file", Kind: columnar.FieldString},
		{Name: "offset", Kind: columnar.FieldInt64},
		{Name: "length", Kind: columnar.FieldInt64},
		{Name: "status", Kind: columnar.FieldString},
		{Name: "content_hash", Kind: columnar.FieldString},
	},
}

func entityRows(rows []graph.Entity) []columnar.Row {
	out := make([]columnar.Row, len(rows))
	for i, r := range rows {
		out[i] = columnar.Row{r.EntityID, r.Namespace, r.Label, r.Type}
	}
	return out
}

func claimRows(rows []graph.Claim) []columnar.Row {
	out := make([]columnar.Row, len(rows))
	for i, r := range rows {
		out[i] = columnar.Row{r.ClaimID, r.Subject, r.Predicate, r.Object, string(r.ObjectType), uint64(r.Tier)}
	}
	return out
}

func provenanceRows(rows []graph.Provenance) []columnar.Row {
	out := make([]columnar.Row, len(rows))
	for i, r := range rows {
		out[i] = columnar.Row{r.ProvenanceID, r.ClaimID, r.SpanID, r.SourceHash, r.ByteStart, r.ByteEnd}
	}
	return out
}

func spanRows(rows []graph.Span) []columnar.Row {
	out := make([]columnar.Row, len(rows))
	for i, r := range rows {
		out[i] = columnar.Row{r.SpanID, r.SourceHash, r.ByteStart, r.ByteEnd, r.Text}
	}
	return out
}

func streamRowsToTable(rows []judge.StreamRow) []columnar.Row {
	out := make([]columnar.Row, len(rows))
	for i, r := range rows {
		out[i] = columnar.Row{
			uint64(r.FrameID), string(r.Stream), r.File, r.Offset, r.Length, string(r.Status), r.ContentHash,
		}
	}
	return out
}
