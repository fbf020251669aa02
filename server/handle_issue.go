package server

import (
	"errors"
	"io"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
)

type issueResponse struct {
	Document        *documentView `json:"document"`
	VerificationUrl string        `json:"verificationUrl"`
	Warning         string        `json:"warning,omitempty"`
}

func (s *Server) handleIssue(e echo.Context) error {
	issuer := principal(e)

	fh, err := e.FormFile("file")
	if err != nil {
		return helpers.InputError(e, to.StringPtr("MissingFile"))
	}

	f, err := fh.Open()
	if err != nil {
		s.logger.Error("error opening upload", "error", err)
		return helpers.ServerError(e, nil)
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, s.config.MaxUploadBytes+1))
	if err != nil {
		s.logger.Error("error reading upload", "error", err)
		return helpers.ServerError(e, nil)
	}

	mime := fh.Header.Get("content-type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	req := &issueRequest{
		raw:      raw,
		filename: fh.Filename,
		mimeType: mime,
		owner:    e.FormValue("owner"),
		issuer:   issuer,
		metadata: DocumentMetadata{
			StudentName:     e.FormValue("studentName"),
			StudentID:       e.FormValue("studentId"),
			InstitutionName: e.FormValue("institutionName"),
			DocumentType:    e.FormValue("documentType"),
			IssueDate:       e.FormValue("issueDate"),
			Description:     e.FormValue("description"),
		},
	}

	if err := e.Validate(req.metadata); err != nil {
		var verr ValidationError
		if errors.As(err, &verr) {
			return helpers.InputError(e, to.StringPtr("Invalid"+verr.Field))
		}
		return helpers.InputError(e, nil)
	}

	result, err := s.issue(e.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrDuplicate):
			resp := map[string]any{"error": "DuplicateDocument"}
			if result != nil && result.doc != nil {
				resp["existing"] = newDocumentView(result.doc)
			}
			return e.JSON(409, resp)
		case errors.Is(err, apperr.ErrValidation):
			return helpers.InputError(e, to.StringPtr(err.Error()))
		case errors.Is(err, apperr.ErrAuthorization):
			return helpers.AuthError(e, nil)
		case errors.Is(err, apperr.ErrUnavailable):
			return e.JSON(503, map[string]string{"error": "ContentStoreUnavailable"})
		default:
			s.logger.Error("issuance pipeline failed", "error", err)
			return helpers.ServerError(e, nil)
		}
	}

	resp := issueResponse{
		Document:        newDocumentView(result.doc),
		VerificationUrl: s.verificationUrl(result.doc),
	}
	if result.chainPending {
		resp.Warning = "chain_pending"
	}

	return e.JSON(200, resp)
}
