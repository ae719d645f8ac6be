package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// Credential holds the schema definition for the Credential entity.
//
// Token bundles are stored ciphertext-only (golang.org/x/crypto/nacl/secretbox,
// see pkg/credentials). The encryption key itself never touches this table.
type Credential struct {
	ent.Schema
}

// Fields of the Credential.
func (Credential) Fields() []ent.Field {
	return []ent.Field{
		field.String("channel_id"),
		field.String("service"),
		field.Bytes("ciphertext").
			Comment("secretbox-sealed token bundle; nonce is the first 24 bytes"),
		field.Time("refreshed_at"),
		field.Time("expires_at"),
	}
}

// Indexes of the Credential.
func (Credential) Indexes() []ent.Index {
	return nil
}

// Annotations for PostgreSQL-specific features.
func (Credential) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "credentials"},
	}
}
