package config

// StockEventsEnabled turns on the stock movement outbox.
// Ledger transactions then write one outbox row each, published to Pub/Sub after commit.
//
// Set via env:
// - STOCK_EVENTS_ENABLED=true
func StockEventsEnabled() bool {
	return boolFromEnv("STOCK_EVENTS_ENABLED")
}

// MigrationsDisabled skips AutoMigrate on server startup.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func MigrationsDisabled() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}
