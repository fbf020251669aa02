package server

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/go-autorest/autorest/to"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vellumd/vellum/internal/helpers"
	"github.com/vellumd/vellum/models"
)

type assignRoleRequest struct {
	Address string `json:"address" validate:"required,eth-addr"`
	Role    string `json:"role" validate:"required"`
}

// handleAdminAssignRole upserts a principal's role and mirrors it to the
// access control contract. Role encoding on-chain: 0=admin, 1=issuer,
// 2=verifier, 3=student.
func (s *Server) handleAdminAssignRole(e echo.Context) error {
	var request assignRoleRequest
	if err := e.Bind(&request); err != nil {
		return helpers.InputError(e, nil)
	}
	if err := e.Validate(request); err != nil {
		return helpers.InputError(e, nil)
	}

	role, ok := models.ParseRole(request.Role)
	if !ok {
		return helpers.InputError(e, to.StringPtr("InvalidRole"))
	}

	addr, _ := helpers.CanonicalAddress(request.Address)

	var p models.Principal
	err := s.db.First(&p, "address = ?", addr).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = models.Principal{
			Address:   addr,
			Role:      role,
			Nonce:     helpers.RandomHex(16),
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.Create(&p).Error; err != nil {
			s.logger.Error("error creating principal", "address", addr, "error", err)
			return helpers.ServerError(e, nil)
		}
	case err != nil:
		s.logger.Error("error looking up principal", "address", addr, "error", err)
		return helpers.ServerError(e, nil)
	default:
		if err := s.db.Model(&models.Principal{}).Where("address = ?", addr).
			Update("role", role).Error; err != nil {
			s.logger.Error("error updating principal role", "address", addr, "error", err)
			return helpers.ServerError(e, nil)
		}
	}

	outcome := &accessOutcome{Committed: true}

	cctx, cancel := context.WithTimeout(e.Request().Context(), s.config.ChainTimeout)
	defer cancel()

	receipt, err := s.registry.AssignRole(cctx, common.HexToAddress(addr), uint8(role))
	if err != nil {
		s.logger.Warn("chain role assignment failed", "address", addr, "error", err)
		outcome.ChainWarning = "chain mirror failed; pending reconciliation"
	} else {
		outcome.ChainMirror = true
		outcome.ChainTxHash = &receipt.TxHash
	}

	if err := s.recordAccess("", "admin", models.AccessAssignRole, addr, outcome.ChainTxHash); err != nil {
		s.logger.Error("error logging role assignment", "address", addr, "error", err)
	}

	return e.JSON(accessStatus(outcome), outcome)
}
