package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/subject-registration-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "registrar",
		Password: "secret",
		Name:     "subject_registration",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5433 user=registrar password=secret dbname=subject_registration sslmode=disable", dsn)
}
