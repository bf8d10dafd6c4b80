// Command auditctl issues audited requests from the command line. Every call
// carries a fresh X-Request-ID and fails when the response breaks the
// provenance contract.
package main

import (
	"errors"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/reconai/auditkit/auditfetch"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitProvenance = 3
	exitHTTP       = 4
)

func main() {
	cmd := newRootCmd(os.Stdout, os.Stderr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, auditfetch.ErrAuditProvenance):
		return exitProvenance
	case errors.Is(err, auditfetch.ErrHTTPStatus):
		return exitHTTP
	default:
		return exitFailure
	}
}

// describe appends the request id to fetch errors so a failure can be traced
// in the server logs.
func describe(err error) string {
	if requestID := auditfetch.RequestIDOf(err); requestID != "" {
		return fmt.Sprintf("%v (request_id=%s)", err, requestID)
	}

	return err.Error()
}
