package server

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestMain silences package-level loggers once before any test runs, so
// goroutines from earlier tests never race with a test reassigning them.
func TestMain(m *testing.M) {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)

	os.Exit(m.Run())
}
