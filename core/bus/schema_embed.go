package bus

import _ "embed"

// EnvelopeSchemaID is the id the envelope schema is published under in the
// shared schema registry.
const EnvelopeSchemaID = "weft.envelope"

//go:embed envelope.schema.json
var envelopeSchema []byte

// EnvelopeSchema returns the JSON schema describing the envelope wire shape.
func EnvelopeSchema() []byte {
	return envelopeSchema
}
