package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Level(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, New("svc", "debug", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("svc", "bogus", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, New("svc", "", true).GetLevel())
}
