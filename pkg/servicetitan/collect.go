package servicetitan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Collection defaults.
const (
	DefaultPageSize = 100
	DefaultMaxPages = 10
)

// Endpoint names an upstream collection. Path is relative to the API base
// and contains a single %s for the tenant id.
type Endpoint struct {
	Entity string
	Path   string
}

func (e Endpoint) resolve(tenantID string) string {
	return fmt.Sprintf(e.Path, url.PathEscape(tenantID))
}

// Projector reduces one raw API record to its narrow shape. ok=false drops
// the record; an error means the record could not be decoded and it is
// dropped as well.
type Projector[T any] func(raw json.RawMessage) (item T, ok bool, err error)

// CollectOptions bounds a paginated collection.
type CollectOptions struct {
	PageSize int
	MaxPages int
}

func (o CollectOptions) withDefaults() CollectOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// StopReason records which termination rule ended a collection.
type StopReason string

const (
	StopEmpty    StopReason = "empty_page"
	StopPartial  StopReason = "partial_page"
	StopNoMore   StopReason = "has_more_false"
	StopMaxPages StopReason = "max_pages"
	StopNotFound StopReason = "not_found"
)

// Result is a finished paginated collection.
type Result[T any] struct {
	Items   []T
	Pages   int
	Dropped int
	Stopped StopReason
}

type pageBody struct {
	Data       []json.RawMessage `json:"data"`
	HasMore    *bool             `json:"hasMore"`
	Pagination *struct {
		HasMore *bool `json:"hasMore"`
	} `json:"pagination"`
}

// explicitNoMore reports whether the body marks the end of the collection.
func (p pageBody) explicitNoMore() bool {
	if p.Pagination != nil && p.Pagination.HasMore != nil {
		return !*p.Pagination.HasMore
	}
	return p.HasMore != nil && !*p.HasMore
}

// Collect walks ep page by page from 1 and projects every record. After each
// page the termination rules are checked in order: an empty page, a page
// shorter than PageSize, an explicit hasMore=false, and finally the MaxPages
// bound. A 404 ends the collection successfully; any other non-200 status or
// an undecodable body returns a *FetchError.
func Collect[T any](ctx context.Context, c *Client, ep Endpoint, project Projector[T], opts CollectOptions) (Result[T], error) {
	opts = opts.withDefaults()
	log := c.log.With(zap.String("entity", ep.Entity))
	path := ep.resolve(c.TenantID())

	res := Result[T]{Items: []T{}}
	for page := 1; ; page++ {
		q := url.Values{
			"page":     {strconv.Itoa(page)},
			"pageSize": {strconv.Itoa(opts.PageSize)},
		}
		resp, err := c.Get(ctx, path, q)
		if err != nil {
			return res, tagFetchError(err, ep.Entity, page)
		}

		if resp.Status == http.StatusNotFound {
			log.Info("collection not found, treating as end of data", zap.Int("page", page))
			res.Stopped = StopNotFound
			return res, nil
		}
		if resp.Status != http.StatusOK {
			return res, &FetchError{Entity: ep.Entity, Page: page, Status: resp.Status, Body: string(resp.Body)}
		}

		var body pageBody
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return res, &FetchError{Entity: ep.Entity, Page: page, Status: resp.Status, Err: eris.Wrap(err, "decode page")}
		}

		kept, dropped := projectAll(body.Data, project, log.With(zap.Int("page", page)))
		res.Items = append(res.Items, kept...)
		res.Dropped += dropped
		res.Pages = page

		log.Debug("page collected",
			zap.Int("page", page),
			zap.Int("records", len(body.Data)),
			zap.Int("kept", len(kept)),
			zap.Int("total", len(res.Items)),
		)

		switch {
		case len(body.Data) == 0:
			res.Stopped = StopEmpty
		case len(body.Data) < opts.PageSize:
			res.Stopped = StopPartial
		case body.explicitNoMore():
			res.Stopped = StopNoMore
		case page >= opts.MaxPages:
			res.Stopped = StopMaxPages
			w := &PartialDataWarning{
				Entity: ep.Entity,
				Reason: fmt.Sprintf("reached max pages (%d) while the server still had data", opts.MaxPages),
				Pages:  page,
				Items:  len(res.Items),
			}
			log.Warn("partial data", zap.Error(w))
		default:
			continue
		}

		log.Info("collection complete",
			zap.Int("pages", res.Pages),
			zap.Int("items", len(res.Items)),
			zap.Int("dropped", res.Dropped),
			zap.String("stopped", string(res.Stopped)),
		)
		return res, nil
	}
}

// BatchResult is a finished batch-keyed collection.
type BatchResult[T any] struct {
	Items   []T
	Batches int
	Failed  int
	Dropped int
}

// CollectByIDs fetches ep once per batch of up to batchSize ids, passing the
// batch as customerIds with page fixed at 1. A batch that fails is logged and
// skipped. Only token failures and cancellation stop the collection.
func CollectByIDs[T any](ctx context.Context, c *Client, ep Endpoint, ids []int64, project Projector[T], batchSize int) (BatchResult[T], error) {
	if batchSize <= 0 {
		batchSize = DefaultPageSize
	}
	log := c.log.With(zap.String("entity", ep.Entity))
	path := ep.resolve(c.TenantID())

	res := BatchResult[T]{Items: []T{}}
	total := (len(ids) + batchSize - 1) / batchSize
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch := ids[start:end]
		res.Batches++

		kept, dropped, err := fetchBatch(ctx, c, path, ep.Entity, batch, batchSize, project)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if IsAuthError(err) {
				return res, err
			}
			res.Failed++
			log.Warn("batch failed, skipping",
				zap.Int("batch", res.Batches),
				zap.Int("ids", len(batch)),
				zap.Error(err),
			)
			continue
		}
		res.Items = append(res.Items, kept...)
		res.Dropped += dropped

		if res.Batches%10 == 0 || res.Batches == total {
			log.Info("batch progress",
				zap.Int("batch", res.Batches),
				zap.Int("of", total),
				zap.Int("items", len(res.Items)),
			)
		}
	}

	log.Info("batched collection complete",
		zap.Int("batches", res.Batches),
		zap.Int("failed", res.Failed),
		zap.Int("items", len(res.Items)),
	)
	return res, nil
}

func fetchBatch[T any](ctx context.Context, c *Client, path, entity string, batch []int64, pageSize int, project Projector[T]) ([]T, int, error) {
	q := url.Values{
		"page":        {"1"},
		"pageSize":    {strconv.Itoa(pageSize)},
		"customerIds": {joinIDs(batch)},
	}
	resp, err := c.Get(ctx, path, q)
	if err != nil {
		return nil, 0, tagFetchError(err, entity, 0)
	}
	if resp.Status != http.StatusOK {
		return nil, 0, &FetchError{Entity: entity, Status: resp.Status, Body: string(resp.Body)}
	}

	var body pageBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, 0, &FetchError{Entity: entity, Status: resp.Status, Err: eris.Wrap(err, "decode batch")}
	}
	kept, dropped := projectAll(body.Data, project, c.log.With(zap.String("entity", entity)))
	return kept, dropped, nil
}

// projectAll projects every record. Records the projector rejects or cannot
// decode are dropped and counted; they never fail the page.
func projectAll[T any](raw []json.RawMessage, project Projector[T], log *zap.Logger) ([]T, int) {
	kept := make([]T, 0, len(raw))
	dropped := 0
	for i, r := range raw {
		item, ok, err := project(r)
		if err != nil {
			log.Warn("dropping undecodable record", zap.Int("record", i), zap.Error(err))
			dropped++
			continue
		}
		if !ok {
			dropped++
			continue
		}
		kept = append(kept, item)
	}
	return kept, dropped
}

func tagFetchError(err error, entity string, page int) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		fe.Entity = entity
		fe.Page = page
	}
	return err
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
