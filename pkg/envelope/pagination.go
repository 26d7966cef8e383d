package envelope

import (
	"net/url"
	"strconv"
)

// Pagination holds the position of one page in a list.
type Pagination struct {
	Total   int
	Page    int
	PerPage int

	// URL is the request URL; links keep its other query parameters.
	URL *url.URL
}

// TotalPages returns the total number of pages. An empty list has one
// empty page.
func (p Pagination) TotalPages() int {
	if p.Total == 0 || p.PerPage <= 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// HasPrev returns true if there is a previous page.
func (p Pagination) HasPrev() bool {
	return p.Page > 1
}

// HasNext returns true if there is a next page.
func (p Pagination) HasNext() bool {
	return p.Page < p.TotalPages()
}

// Meta returns the pagination metadata.
func (p Pagination) Meta() *Meta {
	return &Meta{Total: p.Total, Page: p.Page, PerPage: p.PerPage, Pages: p.TotalPages()}
}

// Links generates the pagination links. Without a URL there are none.
func (p Pagination) Links() *Links {
	if p.URL == nil {
		return nil
	}
	last := p.TotalPages()
	links := &Links{
		Self:  p.pageURL(p.Page),
		First: p.pageURL(1),
		Last:  p.pageURL(last),
	}
	if p.HasPrev() {
		links.Prev = p.pageURL(p.Page - 1)
	}
	if p.HasNext() {
		links.Next = p.pageURL(p.Page + 1)
	}
	return links
}

// pageURL builds the request URL for page. The result is relative: path
// and query only.
func (p Pagination) pageURL(page int) string {
	q := p.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("perPage", strconv.Itoa(p.PerPage))
	u := url.URL{Path: p.URL.Path, RawQuery: q.Encode()}
	return u.String()
}
