package service

import (
	"context"
	"strings"
	"time"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
	"github.com/jengzang/fieldscan-backend-go/internal/repository"
)

// AlertService lists and acknowledges alerts
type AlertService struct {
	repo *repository.AlertRepository
	now  func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(repo *repository.AlertRepository) *AlertService {
	return &AlertService{repo: repo, now: time.Now}
}

// List returns the organization's alerts, newest first
func (s *AlertService) List(ctx context.Context, organizationID string, filter repository.AlertFilter) ([]*models.Alert, error) {
	filter.Category = strings.ToUpper(filter.Category)
	return s.repo.List(ctx, organizationID, filter)
}

// Acknowledge records who acknowledged an alert. Acknowledging twice keeps
// the latest acknowledgement.
func (s *AlertService) Acknowledge(ctx context.Context, organizationID string, id int64, by string) (*models.Alert, error) {
	by = strings.TrimSpace(by)
	if by == "" {
		by = "unknown"
	}
	return s.repo.Acknowledge(ctx, organizationID, id, by, s.now().UTC())
}
