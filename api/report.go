package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/labstack/echo/v4"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/model"
)

var reportPriorities = []model.Priority{model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow}

// RenderReport writes an HTML bar chart of mean dispatch wait and response
// time per priority.
func RenderReport(calls []model.EmergencyCall, w io.Writer) error {
	waits := map[model.Priority][]float64{}
	responses := map[model.Priority][]float64{}
	for _, c := range calls {
		ts := c.Timestamps
		if ts.Dispatched.IsZero() {
			continue
		}
		waits[c.Priority] = append(waits[c.Priority], ts.Dispatched.Sub(ts.Received).Seconds())
		if !ts.Arrived.IsZero() {
			responses[c.Priority] = append(responses[c.Priority], ts.Arrived.Sub(ts.Dispatched).Seconds())
		}
	}
	var (
		labels       []string
		waitBars     []opts.BarData
		responseBars []opts.BarData
	)
	for _, p := range reportPriorities {
		labels = append(labels, string(p))
		waitBars = append(waitBars, opts.BarData{Value: dispatch.Summarize(waits[p]).Mean})
		responseBars = append(responseBars, opts.BarData{Value: dispatch.Summarize(responses[p]).Mean})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Dispatch performance", Subtitle: fmt.Sprintf("%d calls", len(calls))}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Priority"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Mean (s)"}),
	)
	bar.SetXAxis(labels).
		AddSeries("Dispatch wait", waitBars).
		AddSeries("Response", responseBars)
	if err := bar.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

func (s *Server) report(c echo.Context) error {
	calls, err := s.d.Calls().List(c.Request().Context(), callstore.Filter{})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := RenderReport(calls, &buf); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
