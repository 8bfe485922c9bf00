package events

import "codeberg.org/mutker/rfanctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("events_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("events_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("events_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("events_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("events_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitEvents
	ErrStorageClose = errors.ErrCloseEvents

	// Recording Errors
	ErrInvalidEvent = errors.ErrorCode("events_invalid_event")
	ErrRecordFailed = errors.ErrRecordEvent
)
