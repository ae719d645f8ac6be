package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Channel holds the schema definition for the Channel entity.
//
// A channel is a tenant: one customer's configured destination (voice,
// branding, storage strategy, publish binding) plus its concurrency/rate
// envelope. Tasks always belong to exactly one channel.
type Channel struct {
	ent.Schema
}

// Fields of the Channel.
func (Channel) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("channel_id").
			Unique().
			Immutable(),
		field.String("key").
			Comment("Stable external tenant key, distinct from the internal id"),
		field.String("name"),
		field.Bool("active").
			Default(true).
			Comment("Inactive channels are skipped by the scheduler"),
		field.String("voice_id").
			Optional().
			Nillable(),
		field.JSON("branding_json", map[string]interface{}{}).
			Optional(),
		field.String("storage_strategy").
			Default("inline").
			Comment("Where the workspace manager places this channel's artifacts"),
		field.Int("max_concurrent").
			Default(2).
			Comment("Per-channel active-task cap"),
		field.JSON("publish_binding", map[string]interface{}{}).
			Optional().
			Comment("Upload-target configuration for this channel"),
	}
}

// Indexes of the Channel.
func (Channel) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("key").
			Unique(),
		index.Fields("active"),
	}
}

// Annotations for PostgreSQL-specific features.
func (Channel) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "channels"},
	}
}
