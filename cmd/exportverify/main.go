package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/cartomix/opus/internal/exporter"
)

// exportverify validates the checksum manifest bundled with a set served
// from GET /download/{id}/bundle, after extracting the tar.gz locally.
func main() {
	manifest := flag.String("manifest", "", "path to checksums txt (e.g., set-checksums.txt)")
	dir := flag.String("dir", "", "directory containing files (defaults to manifest dir)")
	flag.Parse()

	if *manifest == "" {
		log.Fatal("manifest path required")
	}

	base := *dir
	if base == "" {
		base = filepath.Dir(*manifest)
	}

	if err := exporter.VerifyChecksums(*manifest, base); err != nil {
		log.Fatalf("verify failed: %v", err)
	}

	log.Printf("checksums OK for manifest %s", *manifest)
}
