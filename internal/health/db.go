// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"database/sql"
)

// DBChecker implements health checking for the relational store.
type DBChecker struct {
	pool *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(pool *sql.DB) *DBChecker {
	return &DBChecker{
		pool: pool,
	}
}

// HealthCheck performs a health check by pinging the database.
func (c *DBChecker) HealthCheck(ctx context.Context) error {
	return c.pool.PingContext(ctx)
}
