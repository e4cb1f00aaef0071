// Package id generates the prefixed identifiers sqjobs assigns on its own
// behalf: job IDs for producers that leave them blank, dead-letter entry IDs
// and worker IDs.
//
// IDs are TypeIDs ("prefix_suffix"): K-sortable, UUIDv7-based and URL-safe.
// Job IDs received from the wire are opaque strings and are never required
// to be TypeIDs; only IDs minted here carry a guaranteed shape.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixDLQ    Prefix = "dlq"
	PrefixWorker Prefix = "wkr"
)

// New generates an ID with the given prefix. It panics on an invalid prefix,
// which is a programming error.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewJobID generates a job ID.
func NewJobID() string { return New(PrefixJob) }

// NewDLQID generates a dead-letter entry ID.
func NewDLQID() string { return New(PrefixDLQ) }

// NewWorkerID generates a worker ID.
func NewWorkerID() string { return New(PrefixWorker) }

// Validate parses s and checks that it carries the expected prefix.
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if got := Prefix(tid.Prefix()); got != expected {
		return fmt.Errorf("id: expected prefix %q, got %q", expected, got)
	}
	return nil
}
