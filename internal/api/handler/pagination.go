package handler

import (
	"github.com/buildbid/docproc-service/internal/api/dto"
	"github.com/buildbid/docproc-service/internal/jobs/storage"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// normalizePage clamps page to >= 1 and per_page to 1..MaxPerPage
func normalizePage(page, perPage int) storage.Page {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return storage.Page{Page: page, PerPage: perPage}
}

func newPagination(page storage.Page, total int) dto.PaginationDTO {
	totalPages := 0
	if total > 0 {
		totalPages = (total + page.PerPage - 1) / page.PerPage
	}
	return dto.PaginationDTO{
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    page.Page < totalPages,
		HasPrev:    page.Page > 1,
	}
}
