// Package extract reads every record of a stream from the OData service,
// following server-driven paging and falling back to $skip.
package extract

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/debug"
	"github.com/zmcp/tap-aptem/internal/models"
	"github.com/zmcp/tap-aptem/internal/schema"
	"github.com/zmcp/tap-aptem/internal/utils"
)

// Record is one entity as decoded from the service
type Record = map[string]interface{}

// PageSource fetches pages and builds entity set URLs
type PageSource interface {
	GetPage(ctx context.Context, rawURL string) (*models.Page, error)
	EntitySetURL(entitySet string, params url.Values) string
	ResolveURL(ref string) (string, error)
}

// PageInfo describes a page whose records have all been consumed
type PageInfo struct {
	Number   int
	URL      string
	Records  int
	NextLink string
}

// Options controls a single extraction
type Options struct {
	// PageSize is sent as $top; non-positive means constants.DefaultPageSize.
	PageSize int
	// Select restricts $select; empty requests every property.
	Select []string
	// OnRecord sees each record after the consumer accepted it.
	OnRecord func(Record)
	// OnPage runs once every record of a page has been consumed. An error
	// ends the sequence.
	OnPage func(PageInfo) error
}

// Extractor pulls records page by page
type Extractor struct {
	source PageSource
	logger log.FieldLogger
}

// New creates an Extractor
func New(source PageSource, logger log.FieldLogger) *Extractor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Extractor{source: source, logger: logger}
}

// Query returns the query of the first page request
func Query(stream schema.StreamSchema, cursor *time.Time, opts Options) url.Values {
	query := url.Values{}
	query.Set(constants.QueryTop, strconv.Itoa(pageSize(opts)))
	if stream.ReplicationKey != "" {
		query.Set(constants.QueryOrderBy, stream.ReplicationKey)
		if cursor != nil {
			query.Set(constants.QueryFilter, fmt.Sprintf("%s ge %s", stream.ReplicationKey, utils.FormatFilterTimestamp(*cursor)))
		}
	} else if len(stream.KeyProperties) > 0 {
		// offset paging needs a stable order
		query.Set(constants.QueryOrderBy, strings.Join(stream.KeyProperties, ","))
	}
	if len(opts.Select) > 0 {
		query.Set(constants.QuerySelect, strings.Join(opts.Select, ","))
	}
	return query
}

func pageSize(opts Options) int {
	if opts.PageSize > 0 {
		return opts.PageSize
	}
	return constants.DefaultPageSize
}

// Extract returns the records of stream newer than or equal to cursor, in
// server order. The sequence stops at the first error, which is yielded
// with a nil record. It is lazy and can be restarted only by calling
// Extract again.
func (e *Extractor) Extract(ctx context.Context, stream schema.StreamSchema, cursor *time.Time, opts Options) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		size := pageSize(opts)
		query := Query(stream, cursor, opts)
		next := e.source.EntitySetURL(stream.Name, query)
		skip := 0
		logger := e.logger.WithField("stream", stream.Name)

		for number := 1; ; number++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			logger.WithFields(log.Fields{"page": number, "url": debug.MaskURL(next)}).Debug("Requesting page")
			page, err := e.source.GetPage(ctx, next)
			if err != nil {
				yield(nil, fmt.Errorf("stream %s page %d: %w", stream.Name, number, err))
				return
			}

			for _, record := range page.Records {
				record = normalizeRecord(record, stream.Schema)
				if !yield(record, nil) {
					return
				}
				if opts.OnRecord != nil {
					opts.OnRecord(record)
				}
			}

			if opts.OnPage != nil {
				info := PageInfo{Number: number, URL: next, Records: len(page.Records), NextLink: page.NextLink}
				if err := opts.OnPage(info); err != nil {
					yield(nil, err)
					return
				}
			}

			if len(page.Records) == 0 {
				return
			}
			skip += len(page.Records)

			if page.NextLink != "" {
				next, err = e.source.ResolveURL(page.NextLink)
				if err != nil {
					yield(nil, fmt.Errorf("stream %s page %d: %w", stream.Name, number, err))
					return
				}
				continue
			}

			if len(page.Records) < size {
				return
			}

			fallback := cloneValues(query)
			fallback.Set(constants.QuerySkip, strconv.Itoa(skip))
			next = e.source.EntitySetURL(stream.Name, fallback)
		}
	}
}

func cloneValues(v url.Values) url.Values {
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = append([]string(nil), vs...)
	}
	return c
}
