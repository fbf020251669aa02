package server

import (
	"errors"
	"io"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/labstack/echo/v4"

	"github.com/vellumd/vellum/internal/apperr"
	"github.com/vellumd/vellum/internal/helpers"
)

// handleVerify accepts either an uploaded file (multipart field "file")
// or a hash, plus an optional QR cid, and runs the verification engine.
func (s *Server) handleVerify(e echo.Context) error {
	req := &verifyRequest{
		ip:        e.RealIP(),
		userAgent: e.Request().UserAgent(),
	}

	if p := principal(e); p != nil {
		req.verifier = p.Address
	}

	if hash := e.FormValue("hash"); hash != "" {
		canonical, ok := helpers.CanonicalHash(hash)
		if !ok {
			return helpers.InputError(e, to.StringPtr("InvalidHash"))
		}
		req.hash = canonical
	}

	if cid := e.FormValue("cid"); cid != "" {
		req.cid = cid
	}

	if fh, err := e.FormFile("file"); err == nil {
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
		req.raw = raw
	}

	if req.hash == "" && req.raw == nil {
		return helpers.InputError(e, to.StringPtr("MissingHashOrFile"))
	}

	resp, err := s.verify(e.Request().Context(), req)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return helpers.InputError(e, to.StringPtr("InvalidCid"))
		}
		s.logger.Error("verification failed", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(200, resp)
}

// handleVerifyByHash serves the QR landing flow: GET /verify?hash=0x...
func (s *Server) handleVerifyByHash(e echo.Context) error {
	hash, ok := helpers.CanonicalHash(e.QueryParam("hash"))
	if !ok {
		return helpers.InputError(e, to.StringPtr("InvalidHash"))
	}

	if tx := e.QueryParam("tx"); tx != "" {
		if _, ok := helpers.CanonicalHash(tx); !ok {
			return helpers.InputError(e, to.StringPtr("InvalidTx"))
		}
	}

	req := &verifyRequest{
		hash:      hash,
		cid:       e.QueryParam("cid"),
		ip:        e.RealIP(),
		userAgent: e.Request().UserAgent(),
	}

	if p := principal(e); p != nil {
		req.verifier = p.Address
	}

	resp, err := s.verify(e.Request().Context(), req)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return helpers.InputError(e, to.StringPtr("InvalidCid"))
		}
		s.logger.Error("verification failed", "error", err)
		return helpers.ServerError(e, nil)
	}

	return e.JSON(200, resp)
}
