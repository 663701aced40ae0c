package auth

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
)

func testLogger(_ *testing.T) log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}
