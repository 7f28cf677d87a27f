package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN_ExplicitWinsOverFields(t *testing.T) {
	cfg := ClientConfig{
		DSN:  "postgres://u:p@db.example:6432/audit?sslmode=require",
		Host: "ignored",
	}
	assert.Equal(t, cfg.DSN, DSN(cfg))
}

func TestDSN_BuildsFromFields(t *testing.T) {
	cfg := ClientConfig{
		Host:     "localhost",
		Database: "polysniper",
		User:     "sniper",
		Password: "pw",
	}
	assert.Equal(t,
		"postgres://sniper:pw@localhost:5432/polysniper?sslmode=disable",
		DSN(cfg),
	)

	cfg.Port = 6432
	cfg.SSLMode = "require"
	assert.Equal(t,
		"postgres://sniper:pw@localhost:6432/polysniper?sslmode=require",
		DSN(cfg),
	)
}
