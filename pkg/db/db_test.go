package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/app", RedactDSN("postgres://user:p@ss@db:5432/app"))
	assert.Equal(t, "db:5432/app", RedactDSN("db:5432/app"))
}
