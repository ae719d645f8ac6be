package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity.
//
// A task is one video-production job moving through the 27-status machine
// in pkg/taskstate. Status values are declared here as the source-of-truth
// enum; pkg/taskstate owns the transition table that governs which edges
// between them are legal.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("channel_id").
			Immutable(),
		field.String("channel_key").
			Comment("Denormalized copy of the owning channel's key, for queries that don't need a join"),
		field.String("planning_page_id").
			Unique().
			Comment("Idempotency key linking back to the planning store"),
		field.String("title"),
		field.String("topic"),
		field.Text("story_direction"),
		field.Enum("status").
			Values(
				"DRAFT", "QUEUED", "CLAIMED", "CANCELLED", "PUBLISHED",
				"GENERATING_ASSETS", "ASSETS_READY", "ASSETS_APPROVED",
				"GENERATING_VIDEO", "VIDEO_READY", "VIDEO_APPROVED",
				"GENERATING_AUDIO", "AUDIO_READY", "AUDIO_APPROVED",
				"GENERATING_SFX", "ASSEMBLING", "ASSEMBLED", "FINAL_REVIEW",
				"UPLOADING",
				"ASSET_ERROR", "VIDEO_ERROR", "AUDIO_ERROR", "SFX_ERROR",
				"ASSEMBLY_ERROR", "UPLOAD_ERROR",
			).
			Default("DRAFT").
			Comment("25-state machine, see pkg/taskstate"),
		field.Enum("priority").
			Values("High", "Normal", "Low").
			Default("Normal"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("claimed_at").
			Optional().
			Nillable(),
		field.Int("retry_count").
			Default(0),
		field.Time("next_retry_at").
			Optional().
			Nillable(),
		field.Text("last_error").
			Optional().
			Nillable(),
		field.String("publish_url").
			Optional().
			Nillable(),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("channel_id"),
		index.Fields("status"),
		// Claim scan: ready tasks for a channel, highest priority and oldest first.
		index.Fields("status", "channel_id", "priority", "created_at").
			Annotations(entsql.IndexWhere("status = 'QUEUED'")),
		// Retry-due scan.
		index.Fields("next_retry_at").
			Annotations(entsql.IndexWhere("next_retry_at IS NOT NULL")),
		// Stale-claim reaper scan.
		index.Fields("status", "claimed_at").
			Annotations(entsql.IndexWhere("claimed_at IS NOT NULL")),
	}
}

// Annotations for PostgreSQL-specific features.
func (Task) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "tasks"},
	}
}
