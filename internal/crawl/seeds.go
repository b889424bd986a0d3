package crawl

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadSeeds reads a seed file: one URL per line, UTF-8, blank lines and
// lines beginning with '#' ignored, duplicates collapsed preserving first
// occurrence.
func LoadSeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("crawl: open seed file: %w", err)
	}
	defer f.Close()

	var seeds []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("crawl: read seed file: %w", err)
	}
	return seeds, nil
}
