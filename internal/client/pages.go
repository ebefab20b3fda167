// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
)

// Page is one page of an entity listing. Transient: consumed by the
// paginator and never stored.
type Page struct {
	Data       []Record `json:"data"`
	HasMore    bool     `json:"hasMore"`
	Page       int      `json:"page"`
	TotalCount *int     `json:"totalCount"`
}

// PageFunc receives each page's items in order.
type PageFunc func(page int, items []Record) error

// ForEachPage walks an entity listing from page 1 until the upstream reports
// no more data, returns an empty page, or the page safety limit is reached.
// Hitting the limit logs a warning and stops without error.
func (c *Client) ForEachPage(ctx context.Context, endpoint string, params url.Values, fn PageFunc) error {
	for page := 1; ; page++ {
		if page > c.cfg.MaxPages {
			logging.Ctx(ctx).Warn().
				Str("endpoint", endpoint).
				Int("max_pages", c.cfg.MaxPages).
				Msg("Page safety limit reached, stopping pagination")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		q := cloneValues(params)
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))

		var p Page
		req := &request{
			kind:     "page",
			method:   http.MethodGet,
			endpoint: endpoint,
			query:    q,
			timeout:  c.cfg.Timeout,
		}
		if err := c.call(ctx, c.breaker, req, &p); err != nil {
			return err
		}
		metrics.UpstreamPages.WithLabelValues("page").Inc()

		logging.Ctx(ctx).Debug().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("items", len(p.Data)).
			Bool("has_more", p.HasMore).
			Msg("Fetched page")

		if len(p.Data) > 0 {
			if err := fn(page, p.Data); err != nil {
				return err
			}
		}
		if !p.HasMore || len(p.Data) == 0 {
			return nil
		}
	}
}

// FetchAllPages returns every record of an entity listing in upstream order.
func (c *Client) FetchAllPages(ctx context.Context, endpoint string, params url.Values) ([]Record, error) {
	start := time.Now()
	var all []Record
	pages := 0
	err := c.ForEachPage(ctx, endpoint, params, func(_ int, items []Record) error {
		pages++
		all = append(all, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("endpoint", endpoint).
		Int("pages", pages).
		Int("items", len(all)).
		Dur("took", time.Since(start)).
		Msg("Fetch complete")
	return all, nil
}

// IncrementalParams returns params filtered to records modified or created
// at or after since. Endpoints disagree on the filter name, so all three
// spellings are sent.
func IncrementalParams(params url.Values, since time.Time) url.Values {
	q := cloneValues(params)
	ts := since.UTC().Format(time.RFC3339)
	q.Set("modifiedOnOrAfter", ts)
	q.Set("modifiedAfter", ts)
	q.Set("createdOnOrAfter", ts)
	return q
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
