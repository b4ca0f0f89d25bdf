package employees

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/security"
)

// ServiceParams configure the employee service.
type ServiceParams struct {
	DB       *gorm.DB
	Logger   *logger.Logger
	Security config.SecurityConfig
}

// Service verifies employee PINs against the locally replicated roster. The
// hashes ride the downstream sync, so sign-in works with no network.
type Service struct {
	db       *gorm.DB
	logg     *logger.Logger
	security config.SecurityConfig
}

// NewService builds the employee service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		db:       params.DB,
		logg:     params.Logger,
		security: params.Security,
	}, nil
}

// VerifyPIN checks the PIN for an active employee. A wrong PIN and an
// unknown or inactive employee are indistinguishable to the caller.
func (s *Service) VerifyPIN(ctx context.Context, employeeID uuid.UUID, pin string) (*models.Employee, error) {
	var employee models.Employee
	err := s.db.WithContext(ctx).
		First(&employee, "id = ? AND active = ?", employeeID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "employee not found or pin mismatch")
	}
	if err != nil {
		return nil, err
	}
	if employee.PinHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "employee not found or pin mismatch")
	}

	ok, err := security.VerifyPIN(pin, employee.PinHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify pin")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "employee not found or pin mismatch")
	}

	logCtx := s.logg.WithField(ctx, "employee_id", employeeID.String())
	s.logg.Info(logCtx, "employee pin verified")
	return &employee, nil
}

// EnrollPIN hashes and stores a PIN locally. The row flows upstream the same
// way any local edit does once a cloud connection exists.
func (s *Service) EnrollPIN(ctx context.Context, employeeID uuid.UUID, pin string) error {
	hash, err := security.HashPIN(pin, s.security)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "hash pin")
	}
	result := s.db.WithContext(ctx).
		Model(&models.Employee{}).
		Where("id = ?", employeeID).
		Update("pin_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "employee not found")
	}
	return nil
}
