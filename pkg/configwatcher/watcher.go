// Package configwatcher watches the .ini config tree and fans out parsed
// documents on the config exchange. Routing keys mirror the file path,
// so a consumer binds to exactly the slice of configuration it cares
// about (chains.*.*.alerts_config, channels.#, and so on).
package configwatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
)

// Document is one parsed config file: section name to key/value pairs.
// An empty document signals the file was deleted.
type Document map[string]map[string]string

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher polls the config root for changes. There is no fsnotify here:
// config trees are tiny, mounts are often network-backed, and a poll
// every few seconds is both portable and sufficient.
//
// Publishing runs on a helper goroutine fed through a bounded queue, so
// a slow broker delays fan-out instead of stalling the scan loop.
type Watcher struct {
	root     string
	interval time.Duration
	client   *broker.Client
	pub      broker.Publisher
	logger   zerolog.Logger

	queue chan pendingDoc
	known map[string]fileState
}

type pendingDoc struct {
	rel string
	doc Document
}

// New builds a watcher over the given config root with the given
// publish queue capacity.
func New(root string, interval time.Duration, queueSize int, client *broker.Client) *Watcher {
	return &Watcher{
		root:     root,
		interval: interval,
		client:   client,
		pub:      client,
		logger:   log.WithComponent("config_watcher"),
		queue:    make(chan pendingDoc, queueSize),
		known:    map[string]fileState{},
	}
}

// Run declares the config exchange and polls until cancelled. The first
// round publishes every file so late-starting consumers converge without
// waiting for an edit.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.client.DeclareExchange(broker.ExchangeConfig, "topic"); err != nil {
		return err
	}
	go w.drain(ctx)
	for {
		if err := w.round(ctx); err != nil {
			w.logger.Error().Err(err).Msg("config round failed")
		}
		if err := broker.Sleep(ctx, w.interval); err != nil {
			return err
		}
	}
}

func (w *Watcher) round(ctx context.Context) error {
	current, err := Scan(w.root)
	if err != nil {
		return err
	}
	changed, deleted := Diff(w.known, current)

	for _, rel := range changed {
		doc, err := ParseFile(filepath.Join(w.root, rel))
		if err != nil {
			// A half-written or malformed file: consumers keep their
			// last good copy. The state still advances so a later fix
			// re-triggers a publish.
			w.logger.Error().Err(err).Str("file", rel).Msg("dropping unparseable config")
			continue
		}
		if err := w.enqueue(ctx, rel, doc); err != nil {
			return err
		}
	}
	for _, rel := range deleted {
		if err := w.enqueue(ctx, rel, Document{}); err != nil {
			return err
		}
	}

	w.known = current
	return nil
}

// enqueue hands a document to the publish goroutine. A full queue
// blocks the scan loop until the broker catches up.
func (w *Watcher) enqueue(ctx context.Context, rel string, doc Document) error {
	select {
	case w.queue <- pendingDoc{rel: rel, doc: doc}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-w.queue:
			w.publish(ctx, p.rel, p.doc)
		}
	}
}

func (w *Watcher) publish(ctx context.Context, rel string, doc Document) {
	body, err := json.Marshal(doc)
	if err != nil {
		w.logger.Error().Err(err).Str("file", rel).Msg("encoding config failed")
		return
	}
	key := broker.ConfigKey(rel)
	if err := w.pub.PublishConfirm(ctx, broker.ExchangeConfig, key, body); err != nil {
		w.logger.Warn().Err(err).Str("key", key).Msg("config publish not delivered")
		return
	}
	w.logger.Info().Str("key", key).Int("sections", len(doc)).Msg("published config")
}

// Scan snapshots every .ini file under root, keyed by slash-separated
// relative path.
func Scan(root string) (map[string]fileState, error) {
	out := map[string]fileState{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".ini" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return out, nil
}

// Diff compares two snapshots. Changed covers new files and files whose
// modification time or size moved; both slices come back sorted so
// publish order is stable.
func Diff(old, current map[string]fileState) (changed, deleted []string) {
	for rel, state := range current {
		prev, ok := old[rel]
		if !ok || prev != state {
			changed = append(changed, rel)
		}
	}
	for rel := range old {
		if _, ok := current[rel]; !ok {
			deleted = append(deleted, rel)
		}
	}
	sort.Strings(changed)
	sort.Strings(deleted)
	return changed, deleted
}

// ParseFile loads one .ini file into a Document. The DEFAULT section is
// skipped; every real section carries its resolved key/value pairs.
func ParseFile(path string) (Document, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	doc := Document{}
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		doc[section.Name()] = section.KeysHash()
	}
	return doc, nil
}
