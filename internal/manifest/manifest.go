// Package manifest loads the ordered task list that drives a run and fetches
// the documents it names.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spherical/render-driver/internal/domain"
)

// Manifest is the ordered task list. Order is execution order.
type Manifest []*domain.TaskSpec

// Load fetches and parses the manifest at location, which may be a file path
// or an http(s) URL. Every task's file is resolved against location.
func Load(ctx context.Context, f *Fetcher, location string) (Manifest, error) {
	data, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, domain.ManifestError(fmt.Sprintf("fetch manifest %q", location), err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	for _, task := range m {
		task.File = Resolve(location, task.File)
	}
	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, domain.ManifestError("parse manifest", err)
	}

	seen := make(map[string]struct{}, len(m))
	for i, task := range m {
		if task == nil {
			return nil, domain.ManifestError(fmt.Sprintf("entry %d is null", i), nil)
		}
		if task.ID == "" {
			return nil, domain.ManifestError(fmt.Sprintf("entry %d has no id", i), nil)
		}
		if task.File == "" {
			return nil, domain.ManifestError(fmt.Sprintf("task %q has no file", task.ID), nil)
		}
		if _, dup := seen[task.ID]; dup {
			return nil, domain.ManifestError(fmt.Sprintf("duplicate task id %q", task.ID), nil)
		}
		seen[task.ID] = struct{}{}

		if task.Rounds < 1 {
			task.Rounds = 1
		}
		if task.FirstPage < 0 || task.PageLimit < 0 {
			return nil, domain.ManifestError(fmt.Sprintf("task %q has a negative page bound", task.ID), nil)
		}
	}
	return m, nil
}

// Resolve makes file relative to the manifest's location, the way a browser
// resolves a relative link against the page that contains it.
func Resolve(location, file string) string {
	if isURL(file) || filepath.IsAbs(file) {
		return file
	}

	if isURL(location) {
		base, err := url.Parse(location)
		if err != nil {
			return file
		}
		ref, err := url.Parse(file)
		if err != nil {
			return file
		}
		return base.ResolveReference(ref).String()
	}

	return filepath.Join(filepath.Dir(location), filepath.FromSlash(file))
}

// ExpectedOutcomes returns the number of outcomes a complete run of m
// reports, given the page count of every loaded document. A task missing from
// numPages counts as a failed load, which reports exactly once.
func (m Manifest) ExpectedOutcomes(numPages map[string]int) int {
	total := 0
	for _, task := range m {
		n, ok := numPages[task.ID]
		if !ok {
			total++
			continue
		}
		limit := n
		if task.PageLimit > 0 && task.PageLimit < n {
			limit = task.PageLimit
		}
		first := max(task.FirstPage, 1)

		// only the first round honours firstPage
		total += max(limit-first+1, 0) + (task.Rounds-1)*limit
	}
	return total
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
