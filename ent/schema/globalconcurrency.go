package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// GlobalConcurrencySlot holds the schema definition for the system-wide,
// per-external-service concurrency cap counter. Primary key is `service`;
// see pkg/ratelimit for the acquire/release logic.
type GlobalConcurrencySlot struct {
	ent.Schema
}

// Fields of the GlobalConcurrencySlot.
func (GlobalConcurrencySlot) Fields() []ent.Field {
	return []ent.Field{
		field.String("service").
			Unique().
			Immutable(),
		field.Int("count").
			Default(0),
		field.Int("cap").
			Comment("Max concurrent in-flight calls for this service, system-wide"),
	}
}

// Annotations for PostgreSQL-specific features.
func (GlobalConcurrencySlot) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "global_concurrency"},
	}
}
