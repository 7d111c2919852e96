package main

import (
	"flag"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/cartomix/opus/internal/session"
)

// purge walks the session root and deletes directories older than the
// configured TTL, independent of the /cleanup HTTP endpoint — grounded on
// the original purge_uploads_and_output.py script, shaped like
// cmd/fixturegen's small flag-driven one-shot tool for running from cron.
func main() {
	root := flag.String("session-root", "", "session directory root to purge")
	ttl := flag.Duration("ttl", time.Hour, "remove session directories older than this")
	flag.Parse()

	if *root == "" {
		log.Fatal("session-root is required")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := session.NewManager(*root, 0, logger, func() map[string]bool { return nil })

	removed, err := mgr.ReapOlderThan(*ttl)
	if err != nil {
		log.Fatalf("purge failed: %v", err)
	}

	log.Printf("purge removed %d session directories older than %s", removed, *ttl)
}
