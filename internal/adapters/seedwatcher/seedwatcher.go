// Package seedwatcher ingests AI-seed answer files into the corpus.
// Clean Architecture: Driving adapter feeding usecases.CorpusManager.
//
// Seed generation itself is out of scope; this adapter implements its only
// in-scope effect - new answers entering the corpus. The content pipeline
// drops .jsonl files into a directory, one record per line:
//
//	{"prompt_id": "...", "text": "...", "submitter_id": "..."}
//
// submitter_id is optional; records without one are attributed to the file.
package seedwatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/covermind/covermind/internal/domain/ports"
	"github.com/covermind/covermind/internal/domain/usecases"
)

// embedConcurrency bounds parallel embedder calls per seed file.
const embedConcurrency = 4

// Watcher monitors a seed directory and feeds parsed records through the
// embedder into the corpus.
type Watcher struct {
	dir      string
	corpus   *usecases.CorpusManager
	embedder ports.EmbeddingService
	log      *slog.Logger
}

// seedRecord is one line of a seed file.
type seedRecord struct {
	PromptID    string `json:"prompt_id"`
	Text        string `json:"text"`
	SubmitterID string `json:"submitter_id"`
}

// NewWatcher creates a seed watcher over dir.
func NewWatcher(dir string, corpus *usecases.CorpusManager, embedder ports.EmbeddingService, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{dir: dir, corpus: corpus, embedder: embedder, log: log}
}

// Run ingests any seed files already present, then blocks watching for new
// ones until the context is cancelled. Reprocessing a file is harmless:
// the corpus dedups answers by normalized text.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating seed directory: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading seed directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			w.ingestFile(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.log.Info("seed watcher running", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".jsonl" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.ingestFile(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("seed watcher error", "error", err)
		}
	}
}

// ingestFile parses one seed file and feeds its records into the corpus,
// embedding a bounded number of records in parallel. Bad lines are skipped,
// not fatal: a partially broken seed drop should not block the rest.
func (w *Watcher) ingestFile(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Error("opening seed file", "path", path, "error", err)
		return
	}
	defer f.Close()

	fallbackSubmitter := "seed:" + filepath.Base(path)

	var records []seedRecord
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec seedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			w.log.Warn("skipping malformed seed line", "path", path, "line", line, "error", err)
			continue
		}
		if rec.PromptID == "" || rec.Text == "" {
			w.log.Warn("skipping incomplete seed line", "path", path, "line", line)
			continue
		}
		if rec.SubmitterID == "" {
			rec.SubmitterID = fallbackSubmitter
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		w.log.Error("reading seed file", "path", path, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			embedding, err := w.embedder.Embed(gctx, rec.Text)
			if err != nil {
				w.log.Error("embedding seed record", "path", path, "error", err)
				return nil
			}
			if _, err := w.corpus.AddAnswer(gctx, rec.PromptID, rec.Text, embedding, rec.SubmitterID); err != nil {
				w.log.Warn("seed record not added", "path", path, "prompt_id", rec.PromptID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	w.log.Info("seed file ingested", "path", path, "records", len(records))
}
