// Package config provides configuration management for arrowbridge.
//
// # Key Features
//
// - Config: one structure shared by the C boundary and the CLI
// - Structured sections: Storage, Write, Read, Observability
// - Environment variable substitution with ${VAR_NAME} syntax
// - Automatic defaults and validation
//
// # Usage
//
//	cfg, err := config.LoadFile("arrowbridge.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A YAML file only needs the keys it overrides:
//
//	location: s3://analytics/tables
//	storage:
//	  s3_region: ${AWS_REGION}
//	write:
//	  compression: snappy
package config
