package audit

import (
	"context"
	"fmt"
)

// RepositoryPort describes the persistence operations the service needs.
type RepositoryPort interface {
	Query(ctx context.Context, tenantID int64, filters Filters, offset, limit int) ([]Entry, error)
}

// Service coordinates audit log queries for the administrative surface.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the audit query service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Query returns a page of entries for the tenant, newest first. One extra
// row is fetched to detect whether a further page exists.
func (s *Service) Query(ctx context.Context, tenantID int64, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.Query(ctx, tenantID, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}
