package employees

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/db/models"
	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

func setupEmployeesTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`
CREATE TABLE IF NOT EXISTS employees (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'cashier',
  pin_hash TEXT,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME,
  synced_at DATETIME
);`).Error)
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		DB:     db,
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Security: config.SecurityConfig{
			ArgonMemoryKB:    8,
			ArgonTime:        1,
			ArgonParallelism: 1,
			ArgonSaltLen:     16,
			ArgonKeyLen:      32,
		},
	})
	require.NoError(t, err)
	return service
}

func seedEmployee(t *testing.T, db *gorm.DB, active bool) *models.Employee {
	t.Helper()
	employee := &models.Employee{
		ID:     uuid.New(),
		Name:   "Ana",
		Role:   "cashier",
		Active: active,
	}
	require.NoError(t, db.Create(employee).Error)
	return employee
}

func TestEnrollAndVerifyPIN(t *testing.T) {
	db := setupEmployeesTestDB(t)
	service := newTestService(t, db)
	ctx := context.Background()
	employee := seedEmployee(t, db, true)

	require.NoError(t, service.EnrollPIN(ctx, employee.ID, "4821"))

	verified, err := service.VerifyPIN(ctx, employee.ID, "4821")
	require.NoError(t, err)
	assert.Equal(t, employee.ID, verified.ID)

	_, err = service.VerifyPIN(ctx, employee.ID, "0000")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code(), "wrong pin and unknown employee look identical")
}

func TestVerifyPINInactiveEmployee(t *testing.T) {
	db := setupEmployeesTestDB(t)
	service := newTestService(t, db)
	ctx := context.Background()
	employee := seedEmployee(t, db, false)

	require.NoError(t, db.Model(&models.Employee{}).Where("id = ?", employee.ID).
		Update("pin_hash", "$argon2id$v=19$m=8,t=1,p=1$YWJjZGVmZ2hpamtsbW5vcA$YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXoxMjM0NTY").Error)

	_, err := service.VerifyPIN(ctx, employee.ID, "4821")
	require.Error(t, err)
}

func TestVerifyPINWithoutEnrollment(t *testing.T) {
	db := setupEmployeesTestDB(t)
	service := newTestService(t, db)
	employee := seedEmployee(t, db, true)

	_, err := service.VerifyPIN(context.Background(), employee.ID, "4821")
	require.Error(t, err, "no hash on file behaves like a mismatch")
}

func TestEnrollPINUnknownEmployee(t *testing.T) {
	db := setupEmployeesTestDB(t)
	service := newTestService(t, db)

	err := service.EnrollPIN(context.Background(), uuid.New(), "4821")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
