// Package tap runs discovery and sync and writes Singer messages.
package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/zmcp/tap-aptem/internal/client"
	"github.com/zmcp/tap-aptem/internal/config"
	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/debug"
	"github.com/zmcp/tap-aptem/internal/discover"
	"github.com/zmcp/tap-aptem/internal/extract"
	"github.com/zmcp/tap-aptem/internal/schema"
	"github.com/zmcp/tap-aptem/internal/singer"
	"github.com/zmcp/tap-aptem/internal/state"
)

// Options holds run-time inputs that are not part of the config file
type Options struct {
	CatalogPath string
	StatePath   string
	Output      io.Writer // Singer messages, stdout when nil
	Logger      *log.Logger
	Tracer      *debug.TraceLogger
	HTTPClient  *http.Client
}

// Tap connects the Aptem OData service to Singer output
type Tap struct {
	config     *config.Config
	opts       Options
	client     *client.ODataClient
	discoverer *discover.Discoverer
	extractor  *extract.Extractor
	writer     *singer.Writer
	logger     *log.Entry
	now        func() time.Time
}

// New creates a tap for cfg
func New(cfg *config.Config, opts Options) (*Tap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	logger := opts.Logger.WithField("sync_id", uuid.NewString())

	retry := client.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries

	odataClient := client.NewODataClient(cfg.ServiceURL(), cfg.APIToken,
		client.WithHTTPClient(opts.HTTPClient),
		client.WithTimeout(cfg.Timeout()),
		client.WithRateLimit(cfg.RequestsPerSecond, cfg.RateBurst),
		client.WithRetryConfig(retry),
		client.WithUserAgent(cfg.UserAgent),
		client.WithLogger(logger),
		client.WithTracer(opts.Tracer),
	)

	return &Tap{
		config: cfg,
		opts:   opts,
		client: odataClient,
		discoverer: discover.New(odataClient, logger,
			schema.WithReplicationKeyCandidates(cfg.ReplicationKeyCandidates),
			schema.WithReplicationKeys(cfg.ReplicationKeys),
		),
		extractor: extract.New(odataClient, logger),
		writer:    singer.NewWriter(opts.Output),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Discover writes the catalog of every entity set to w
func (t *Tap) Discover(ctx context.Context, w io.Writer) error {
	streams, err := t.discoverer.Discover(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(singer.NewCatalog(streams), "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

func (t *Tap) catalog(ctx context.Context) (*singer.Catalog, error) {
	if t.opts.CatalogPath != "" {
		return singer.ReadCatalog(t.opts.CatalogPath)
	}
	streams, err := t.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return singer.NewCatalog(streams), nil
}

func (t *Tap) loadState(ctx context.Context, store state.Store) (*singer.State, error) {
	if t.opts.StatePath != "" {
		return singer.ReadStateFile(t.opts.StatePath)
	}
	return store.Load(ctx)
}

// Sync extracts every selected stream in catalog order
func (t *Tap) Sync(ctx context.Context) (err error) {
	catalog, err := t.catalog(ctx)
	if err != nil {
		return err
	}

	store, err := state.Open(ctx, t.config.StateBackend, t.config.StateURI, constants.TapName)
	if err != nil {
		return err
	}
	defer func() {
		multierr.AppendInto(&err, store.Close())
	}()

	st, err := t.loadState(ctx, store)
	if err != nil {
		return err
	}

	var validator *singer.Validator
	if t.config.ValidateRecords {
		validator = singer.NewValidator()
	}

	selected := catalog.Selected()
	t.logger.WithFields(log.Fields{
		"streams":  len(selected),
		"backend":  t.config.StateBackend,
		"base_url": debug.MaskURL(t.client.BaseURL()),
	}).Info("Starting sync")

	start := time.Now()
	for _, entry := range selected {
		if err := t.syncStream(ctx, entry.StreamSchema(), entry, st, store, validator); err != nil {
			return err
		}
	}

	if err := t.writer.Write(singer.StateMessage(st)); err != nil {
		return err
	}
	if err := store.Save(ctx, st); err != nil {
		return err
	}
	if err := t.writer.Flush(); err != nil {
		return err
	}

	t.logger.WithField("duration", time.Since(start).String()).Info("Sync completed")
	return nil
}

func (t *Tap) syncStream(ctx context.Context, stream schema.StreamSchema, entry singer.CatalogEntry, st *singer.State, store state.Store, validator *singer.Validator) error {
	logger := t.logger.WithField("stream", stream.Name)

	if err := t.writer.Write(singer.SchemaMessage(stream)); err != nil {
		return err
	}
	if validator != nil {
		if err := validator.Register(stream.Name, stream.Schema); err != nil {
			return err
		}
	}

	var bookmark *singer.Bookmark
	var cursor *time.Time
	if stream.ReplicationKey != "" {
		var err error
		bookmark = st.Bookmark(stream.Name, stream.ReplicationKey)
		cursor, err = st.Cursor(stream.Name, stream.ReplicationKey, t.config.StartTime())
		if err != nil {
			return err
		}
	}

	opts := extract.Options{
		PageSize: t.config.PageSize(stream.Name),
		OnRecord: bookmark.Observe,
		OnPage: func(extract.PageInfo) error {
			bookmark.Commit()
			if err := t.writer.Write(singer.StateMessage(st)); err != nil {
				return err
			}
			return store.Save(ctx, st)
		},
	}
	if _, all := entry.SelectedProperties(); !all {
		opts.Select = stream.PropertyNames()
	}

	fields := log.Fields{"replication_key": stream.ReplicationKey}
	if cursor != nil {
		fields["cursor"] = cursor.Format(time.RFC3339)
	}
	logger.WithFields(fields).Info("Syncing stream")

	count := 0
	for record, err := range t.extractor.Extract(ctx, stream, cursor, opts) {
		if err != nil {
			return t.streamError(logger, stream, err)
		}
		if validator != nil {
			if verr := validator.Validate(stream.Name, record); verr != nil {
				logger.WithError(verr).Warn("Record does not match schema")
			}
		}
		if err := t.writer.Write(singer.RecordMessage(stream.Name, record, t.now())); err != nil {
			return err
		}
		count++
	}

	logger.WithField("records", count).Info("Stream sync completed")
	return nil
}

// streamError decides whether a failed stream ends the sync. A 403 means
// the token cannot read this entity set, so the stream is skipped.
func (t *Tap) streamError(logger *log.Entry, stream schema.StreamSchema, err error) error {
	var httpErr *client.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("stream %s: %w", stream.Name, err)
	}

	switch httpErr.StatusCode {
	case http.StatusForbidden:
		logger.WithError(err).Warn("Access denied, skipping stream")
		return nil
	case http.StatusRequestURITooLong:
		logger.WithField("properties", len(stream.PropertyNames())).
			Error("Request URI too long: too many properties requested, deselect some in the catalog")
	}
	return fmt.Errorf("stream %s: %w", stream.Name, err)
}
