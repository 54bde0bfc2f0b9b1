package config

import "embed"

const (
	domainsSchemaFile = "schema/domains.schema.json"
	gatewaySchemaFile = "schema/gateway.schema.json"
)

//go:embed schema/*.json
var configSchemaFS embed.FS
