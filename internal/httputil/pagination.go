package httputil

import (
	"fmt"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Page is a validated page request. Number starts at 1.
type Page struct {
	Number  int
	PerPage int
}

// ParsePagination parses page/per_page values. Empty values take the
// defaults; a page below 1 is clamped to 1.
func ParsePagination(pageStr, perPageStr string) (Page, error) {
	p := Page{Number: 1, PerPage: DefaultPerPage}

	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil {
			return Page{}, fmt.Errorf("invalid page parameter: must be an integer")
		}
		if n > 1 {
			p.Number = n
		}
	}

	if perPageStr != "" {
		n, err := strconv.Atoi(perPageStr)
		if err != nil {
			return Page{}, fmt.Errorf("invalid per_page parameter: must be an integer")
		}
		if n < 1 || n > MaxPerPage {
			return Page{}, fmt.Errorf("per_page must be between 1 and %d", MaxPerPage)
		}
		p.PerPage = n
	}

	return p, nil
}
