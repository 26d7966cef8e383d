package envelope

import (
	"net/url"
	"testing"
)

func TestPagination_TotalPages(t *testing.T) {
	tests := []struct {
		total, perPage, want int
	}{
		{0, 20, 1},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{100, 10, 10},
	}
	for _, tt := range tests {
		p := Pagination{Total: tt.total, PerPage: tt.perPage, Page: 1}
		if got := p.TotalPages(); got != tt.want {
			t.Errorf("TotalPages(%d/%d) = %d, want %d", tt.total, tt.perPage, got, tt.want)
		}
	}
}

func TestPagination_Links(t *testing.T) {
	u, _ := url.Parse("/api/books?sort=-title&page=2&perPage=10")
	p := Pagination{Total: 35, Page: 2, PerPage: 10, URL: u}

	links := p.Links()
	if links.Self != "/api/books?page=2&perPage=10&sort=-title" {
		t.Errorf("Self = %q", links.Self)
	}
	if links.First != "/api/books?page=1&perPage=10&sort=-title" {
		t.Errorf("First = %q", links.First)
	}
	if links.Last != "/api/books?page=4&perPage=10&sort=-title" {
		t.Errorf("Last = %q", links.Last)
	}
	if links.Prev != "/api/books?page=1&perPage=10&sort=-title" {
		t.Errorf("Prev = %q", links.Prev)
	}
	if links.Next != "/api/books?page=3&perPage=10&sort=-title" {
		t.Errorf("Next = %q", links.Next)
	}
}

func TestPagination_LinksAtEdges(t *testing.T) {
	u, _ := url.Parse("/api/books")
	p := Pagination{Total: 5, Page: 1, PerPage: 10, URL: u}

	links := p.Links()
	if links.Prev != "" {
		t.Errorf("Prev = %q, want empty on first page", links.Prev)
	}
	if links.Next != "" {
		t.Errorf("Next = %q, want empty on last page", links.Next)
	}
	if (Pagination{Total: 5, Page: 1, PerPage: 10}).Links() != nil {
		t.Error("Links without URL should be nil")
	}
}

func TestPagination_Meta(t *testing.T) {
	m := Pagination{Total: 0, Page: 1, PerPage: 20}.Meta()
	if m.Total != 0 || m.Page != 1 || m.PerPage != 20 || m.Pages != 1 {
		t.Errorf("Meta = %+v", m)
	}
}
