package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SyncJob holds the schema definition for an outbound planning-store sync
// job: fire-and-forget with respect to the pipeline, bounded retry,
// silently dropped after exhaustion.
type SyncJob struct {
	ent.Schema
}

// Fields of the SyncJob.
func (SyncJob) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("sync_job_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("channel_id").
			Immutable(),
		field.String("planning_page_id"),
		field.JSON("payload_json", map[string]interface{}{}),
		field.Int("attempts").
			Default(0),
		field.Time("next_attempt_at").
			Default(time.Now),
		field.Text("last_error").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the SyncJob.
func (SyncJob) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("sync_jobs").
			Field("task_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the SyncJob.
func (SyncJob) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("next_attempt_at"),
	}
}

// Annotations for PostgreSQL-specific features.
func (SyncJob) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "sync_jobs"},
	}
}
