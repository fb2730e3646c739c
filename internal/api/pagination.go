package api

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a normalized page request.
type Page struct {
	Page     int
	PageSize int
}

// NormalizePage clamps a page request: page <= 0 becomes 1, and a page size
// outside 1..MaxPageSize becomes DefaultPageSize.
func NormalizePage(page, pageSize int) Page {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return Page{Page: page, PageSize: pageSize}
}
