// Package discover turns the service $metadata document into stream schemas.
package discover

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/zmcp/tap-aptem/internal/client"
	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/debug"
	"github.com/zmcp/tap-aptem/internal/metadata"
	"github.com/zmcp/tap-aptem/internal/schema"
)

// MetadataSource fetches the raw $metadata document
type MetadataSource interface {
	GetMetadata(ctx context.Context) ([]byte, error)
	BaseURL() string
}

// Discoverer builds one StreamSchema per entity set
type Discoverer struct {
	source  MetadataSource
	options []schema.Option
	logger  log.FieldLogger
}

// New creates a Discoverer
func New(source MetadataSource, logger log.FieldLogger, opts ...schema.Option) *Discoverer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Discoverer{source: source, options: opts, logger: logger}
}

// Discover fetches and parses $metadata. Streams follow the document order
// of entity sets; on error no streams are returned.
func (d *Discoverer) Discover(ctx context.Context) ([]schema.StreamSchema, error) {
	metadataURL := debug.MaskURL(d.source.BaseURL() + constants.MetadataEndpoint)
	d.logger.WithField("url", metadataURL).Info("Fetching service metadata")

	data, err := d.source.GetMetadata(ctx)
	if err != nil {
		fetchErr := &MetadataFetchError{URL: metadataURL, Err: err}
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) {
			fetchErr.StatusCode = httpErr.StatusCode
		}
		return nil, fetchErr
	}

	meta, err := metadata.ParseMetadata(data, d.source.BaseURL())
	if err != nil {
		return nil, &MetadataParseError{Reason: "invalid EDMX document", Err: err}
	}
	if len(meta.EntitySets) == 0 {
		return nil, &MetadataParseError{Reason: "no entity sets declared"}
	}

	builder := schema.NewBuilder(meta, d.options...)
	streams := make([]schema.StreamSchema, 0, len(meta.EntitySets))
	for _, set := range meta.EntitySets {
		stream, err := builder.Build(set)
		if err != nil {
			var mappingErr *schema.SchemaMappingError
			if errors.As(err, &mappingErr) {
				return nil, err
			}
			return nil, &MetadataParseError{Reason: fmt.Sprintf("entity set %s", set.Name), Err: err}
		}
		if len(stream.KeyProperties) == 0 {
			return nil, &MetadataParseError{Reason: fmt.Sprintf("entity set %s has no key properties", set.Name)}
		}
		streams = append(streams, stream)
	}

	d.logger.WithFields(log.Fields{
		"version":  meta.Version,
		"odata_v4": meta.IsV4(),
		"streams":  len(streams),
	}).Info("Discovered streams")
	return streams, nil
}
