package report

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestCollector(t *testing.T) {
	start := time.Now()
	c := NewCollector(start)

	c.Fetched(200, 1000)
	c.Fetched(200, 500)
	c.Failed(503)
	c.Dropped("robots")
	c.Dropped("robots")
	c.Duplicate()
	c.Enqueued(7)

	s := c.Finish(start.Add(time.Second))
	if s.Fetched != 2 || s.Failed != 1 || s.Dropped != 2 || s.Duplicates != 1 || s.Enqueued != 7 {
		t.Errorf("summary = %+v", s)
	}
	if s.StatusCodes[200] != 2 || s.StatusCodes[503] != 1 {
		t.Errorf("status codes = %v", s.StatusCodes)
	}
	if s.DropReasons["robots"] != 2 {
		t.Errorf("drop reasons = %v", s.DropReasons)
	}
	if s.TotalBytes != 1500 {
		t.Errorf("bytes = %d", s.TotalBytes)
	}
	if s.Duration != time.Second {
		t.Errorf("duration = %v", s.Duration)
	}
}

func TestWriteText(t *testing.T) {
	c := NewCollector(time.Now())
	c.Fetched(200, 100)
	c.Dropped("blacklist")
	s := c.Finish(time.Now())

	var buf bytes.Buffer
	if err := WriteText(&buf, s); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Crawl Summary", "Fetched:", "blacklist", "200"} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	c := NewCollector(time.Now())
	c.Fetched(200, 100)
	s := c.Finish(time.Now())

	var buf bytes.Buffer
	if err := WriteJSON(&buf, s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\"Fetched\": 1") {
		t.Errorf("json = %s", buf.String())
	}
}
