package server

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/internal/helpers"
)

type documentListResponse struct {
	Documents []*documentView `json:"documents"`
	Cursor    string          `json:"cursor,omitempty"`
}

// handleDocumentList returns the caller's documents: owned ones by
// default, or another owner's when the caller is an admin.
func (s *Server) handleDocumentList(e echo.Context) error {
	p := principal(e)

	owner := p.Address
	if requested := e.QueryParam("owner"); requested != "" {
		addr, ok := helpers.CanonicalAddress(requested)
		if !ok {
			return helpers.InputError(e, nil)
		}
		if addr != p.Address && !canAccessOwnerListing(p) {
			return helpers.AuthError(e, nil)
		}
		owner = addr
	}

	limit, _ := strconv.Atoi(e.QueryParam("limit"))

	docs, err := s.getDocumentsByOwner(owner, limit, e.QueryParam("cursor"))
	if err != nil {
		if errors.Is(err, gorm.ErrInvalidData) {
			return helpers.InputError(e, nil)
		}
		s.logger.Error("error listing documents", "owner", owner, "error", err)
		return helpers.ServerError(e, nil)
	}

	resp := documentListResponse{Documents: make([]*documentView, 0, len(docs))}
	for i := range docs {
		resp.Documents = append(resp.Documents, newDocumentView(&docs[i]))
	}
	if len(docs) > 0 {
		resp.Cursor = listCursor(&docs[len(docs)-1])
	}

	return e.JSON(200, resp)
}
