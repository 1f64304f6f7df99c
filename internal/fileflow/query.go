package fileflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"fileflow/internal/model"
)

// DefaultPageSize is used when a caller asks for a non-positive page size.
const DefaultPageSize = 20

// Sort fields accepted by ListOptions.
const (
	SortByName      = "name"
	SortBySize      = "size"
	SortByType      = "type"
	SortByCreatedAt = "createdAt"
	SortByUpdatedAt = "updatedAt"
)

// ListOptions controls pagination and ordering of file listings.
// The zero value lists the first page, most recently updated first.
type ListOptions struct {
	Page      int
	PageSize  int
	SortField string
	Ascending bool
}

// Page is one slice of a listing plus the total match count.
type Page struct {
	Files    []*model.File `json:"files"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

func (o ListOptions) normalize() (ListOptions, error) {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	switch o.SortField {
	case "":
		o.SortField = SortByUpdatedAt
	case SortByName, SortBySize, SortByType, SortByCreatedAt, SortByUpdatedAt:
	default:
		return o, fmt.Errorf("unknown sort field %q: %w", o.SortField, ErrValidation)
	}
	return o, nil
}

// compareFiles orders two files by field. Ties fall back to id so that
// pages never overlap or skip.
func compareFiles(a, b *model.File, field string) int {
	var c int
	switch field {
	case SortByName:
		c = compareStrings(a.Name, b.Name)
	case SortByType:
		c = compareStrings(a.Type, b.Type)
	case SortBySize:
		c = compareInts(a.Size, b.Size)
	case SortByCreatedAt:
		c = a.CreatedAt.Compare(b.CreatedAt)
	default:
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	}
	return c
}

func compareStrings(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// paginate sorts files in place and returns the requested page.
func paginate(files []*model.File, o ListOptions) *Page {
	sort.SliceStable(files, func(i, j int) bool {
		c := compareFiles(files[i], files[j], o.SortField)
		if !o.Ascending {
			c = -c
		}
		if c == 0 {
			return files[i].ID < files[j].ID
		}
		return c < 0
	})

	page := &Page{Total: len(files), Page: o.Page, PageSize: o.PageSize, Files: []*model.File{}}
	start := (o.Page - 1) * o.PageSize
	if start >= len(files) {
		return page
	}
	end := start + o.PageSize
	if end > len(files) {
		end = len(files)
	}
	page.Files = files[start:end]
	return page
}

// matchesTerm reports whether term occurs case-insensitively in the file's
// name, type, or any tag. An empty term matches everything.
func matchesTerm(f *model.File, term string) bool {
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(f.Name), term) || strings.Contains(strings.ToLower(f.Type), term) {
		return true
	}
	for _, tag := range f.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeName replaces every character outside [a-zA-Z0-9._-] with '_'.
// It is idempotent.
func SanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// normalizeTags trims tags and drops empty and duplicate entries.
func normalizeTags(tags []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// normalizeIDs validates ids and drops duplicates and the excluded id.
func normalizeIDs(ids []string, exclude string) ([]string, error) {
	out := []string{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !ValidID(id) {
			return nil, fmt.Errorf("malformed user id %q: %w", id, ErrValidation)
		}
		if id == exclude || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
