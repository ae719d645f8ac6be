package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// RateCounter holds the schema definition for the per-channel windowed
// rate-limit counter. Primary key is the composite (channel_id, service);
// see pkg/ratelimit for the acquire logic.
type RateCounter struct {
	ent.Schema
}

// Fields of the RateCounter.
func (RateCounter) Fields() []ent.Field {
	return []ent.Field{
		field.String("channel_id"),
		field.String("service"),
		field.Time("window_start"),
		field.Int("count").
			Default(0),
		field.Int("cap").
			Comment("Max acquisitions allowed within one window"),
	}
}

// Annotations for PostgreSQL-specific features.
func (RateCounter) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "rate_counters"},
	}
}
