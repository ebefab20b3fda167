// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
)

// ReportField describes one positional column of a report.
type ReportField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	DataType string `json:"dataType"`
}

// ReportParam is one named report parameter.
type ReportParam struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Report is a fully paginated report result. Rows are positional; Fields,
// taken from the first page, say what each position means.
type Report struct {
	Fields []ReportField
	Rows   [][]any
	Pages  int
}

// Column returns the position of the named field, or -1.
func (r *Report) Column(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

type reportRequest struct {
	Request struct {
		Page     int `json:"page"`
		PageSize int `json:"pageSize"`
	} `json:"request"`
	Parameters []ReportParam `json:"parameters"`
}

type reportPage struct {
	Fields  []ReportField `json:"fields"`
	Data    [][]any       `json:"data"`
	Items   [][]any       `json:"items"`
	HasMore bool          `json:"hasMore"`
}

func (p *reportPage) rows() [][]any {
	if p.Items != nil {
		return p.Items
	}
	return p.Data
}

// FetchReport runs a report query page by page. Pages are requested with an
// explicit page/pageSize body and pagination follows the hasMore flag.
func (c *Client) FetchReport(ctx context.Context, category, reportID string, params []ReportParam) (*Report, error) {
	endpoint := fmt.Sprintf("reporting/v2/tenant/{tenant}/%s/reports/%s/data", category, reportID)
	if params == nil {
		params = []ReportParam{}
	}

	report := &Report{}
	for page := 1; ; page++ {
		if page > c.cfg.MaxReportPages {
			logging.Ctx(ctx).Warn().
				Str("report", reportID).
				Int("max_pages", c.cfg.MaxReportPages).
				Msg("Report page safety limit reached, stopping pagination")
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body := reportRequest{Parameters: params}
		body.Request.Page = page
		body.Request.PageSize = c.cfg.ReportPageSize

		var p reportPage
		req := &request{
			kind:     "report",
			method:   http.MethodPost,
			endpoint: endpoint,
			body:     body,
			timeout:  c.cfg.ReportTimeout,
		}
		if err := c.call(ctx, c.reportBreaker, req, &p); err != nil {
			return nil, err
		}
		metrics.UpstreamPages.WithLabelValues("report").Inc()

		if page == 1 {
			report.Fields = p.Fields
		}
		rows := p.rows()
		report.Rows = append(report.Rows, rows...)
		report.Pages = page

		logging.Ctx(ctx).Debug().
			Str("report", reportID).
			Int("page", page).
			Int("rows", len(rows)).
			Bool("has_more", p.HasMore).
			Msg("Fetched report page")

		if !p.HasMore || len(rows) == 0 {
			break
		}
	}

	logging.Ctx(ctx).Info().
		Str("report", reportID).
		Str("category", category).
		Int("pages", report.Pages).
		Int("rows", len(report.Rows)).
		Int("columns", len(report.Fields)).
		Msg("Report fetch complete")
	return report, nil
}
