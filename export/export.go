// Package export publishes finished runs to their destinations.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"rfp_scout/models"
	"rfp_scout/storage"
)

// Sink receives a completed run. Publish must not modify the run.
type Sink interface {
	Name() string
	Publish(ctx context.Context, run *models.Run) error
}

// Uploader is satisfied by storage.S3Uploader.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// StoreSink persists every scored opportunity so a run's buckets survive a
// restart.
type StoreSink struct {
	store storage.Store
}

func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Publish(ctx context.Context, run *models.Run) error {
	return s.store.SaveAssessments(ctx, run.ID, run.All())
}

// S3Sink writes one JSON archive per run.
type S3Sink struct {
	uploader Uploader
	prefix   string
}

func NewS3Sink(uploader Uploader, prefix string) *S3Sink {
	return &S3Sink{uploader: uploader, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Sink) Name() string { return "s3" }

// Key is <prefix>/YYYY/MM/DD/<run_id>.json, dated by the run's start in UTC.
func (s *S3Sink) Key(run *models.Run) string {
	return path.Join(s.prefix, run.StartedAt.UTC().Format("2006/01/02"), run.ID+".json")
}

func (s *S3Sink) Publish(ctx context.Context, run *models.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	key := s.Key(run)
	if err := s.uploader.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}
	if l, ok := s.uploader.(interface{ ObjectURL(string) string }); ok {
		log.Printf("[Export] Archived run %s to %s", run.ID, l.ObjectURL(key))
	}
	return nil
}

// Multi publishes to every sink in order. A failing sink does not stop the
// others; the result maps each sink name to whether it succeeded.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	var kept []Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{sinks: kept}
}

func (m *Multi) Publish(ctx context.Context, run *models.Run) map[string]bool {
	results := make(map[string]bool, len(m.sinks))
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, run); err != nil {
			log.Printf("[Export] %s failed for run %s: %v", sink.Name(), run.ID, err)
			results[sink.Name()] = false
			continue
		}
		results[sink.Name()] = true
	}
	return results
}

func (m *Multi) Len() int {
	return len(m.sinks)
}
