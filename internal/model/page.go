// Copyright (c) 2026 Keymaster Team
// Fleetmaster - fleet enrollment and liveness controller
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "math"

const (
	// DefaultPageSize is applied when a page request names no size.
	DefaultPageSize = 10
	// MaxPageSize caps a single page.
	MaxPageSize = 100
	// MaxPage keeps Offset within int for every page size.
	MaxPage = math.MaxInt / MaxPageSize
)

// Page is a 1-based page request.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Offset returns the number of rows to skip. Pages are clamped to
// [1, MaxPage].
func (p Page) Offset() int {
	page := min(max(p.Page, 1), MaxPage)
	return (page - 1) * p.Limit()
}

// Limit returns the page size clamped to (0, MaxPageSize].
func (p Page) Limit() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return p.PageSize
}

// PageList is one page of results plus the total row count of the backing
// store, independent of the requested page.
type PageList[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}
