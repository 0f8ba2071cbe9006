// Package iammemory holds in-memory repositories for every IAM port. They
// enforce the same uniqueness rules as the Postgres schema and back the
// development mode and the service tests. Pair them with dbx.NopTransactor:
// there is no rollback.
package iammemory
