// Package report aggregates per-URL crawl outcomes into an end-of-run
// summary the orchestrator logs and optionally writes out as JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/template"
	"time"
)

// Summary contains aggregated metrics about one crawl run.
type Summary struct {
	Fetched     int
	Failed      int
	Dropped     int
	Duplicates  int
	Enqueued    int
	StatusCodes map[int]int
	DropReasons map[string]int
	TotalBytes  int64
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}

// Collector accumulates outcomes from concurrent fetch workers.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

// NewCollector starts a collection window at now.
func NewCollector(now time.Time) *Collector {
	return &Collector{summary: Summary{
		StartTime:   now,
		StatusCodes: make(map[int]int),
		DropReasons: make(map[string]int),
	}}
}

// Fetched records a successful page retrieval.
func (c *Collector) Fetched(status int, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Fetched++
	c.summary.StatusCodes[status]++
	c.summary.TotalBytes += int64(bytes)
}

// Failed records a fetch that errored after its retries (status 0) or
// ended on a non-200 status.
func (c *Collector) Failed(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Failed++
	if status > 0 {
		c.summary.StatusCodes[status]++
	}
}

// Dropped records a policy veto.
func (c *Collector) Dropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Dropped++
	c.summary.DropReasons[reason]++
}

// Duplicate records a near-duplicate discard.
func (c *Collector) Duplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Duplicates++
}

// Enqueued records newly discovered links handed to the frontier.
func (c *Collector) Enqueued(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Enqueued += n
}

// Finish closes the window and returns the completed summary.
func (c *Collector) Finish(now time.Time) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.EndTime = now
	c.summary.Duration = now.Sub(c.summary.StartTime)
	return c.summary
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Crawl Summary
-------------
Time:        {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:    {{.Duration}}
Fetched:     {{.Fetched}} pages ({{.TotalBytes}} bytes)
Failed:      {{.Failed}}
Duplicates:  {{.Duplicates}}
Enqueued:    {{.Enqueued}} new links

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Policy Drops: {{.Dropped}}
{{- range $reason, $count := .DropReasons}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}
