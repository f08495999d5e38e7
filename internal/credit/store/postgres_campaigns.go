package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"credits/internal/credit/models"
	id "credits/pkg/domain"
)

const campaignColumns = `id, name, description, credit_type, credit_amount, total_budget, allocated_amount,
	start_date, end_date, expiration_days, max_allocations_per_user, eligibility_rules, is_active,
	created_at, updated_at`

func (s *PostgresStore) CreateCampaign(ctx context.Context, campaign *models.CreditCampaign) error {
	rules, err := marshalMetadata(campaign.EligibilityRules)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO credit_campaigns (` + campaignColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		campaign.ID.String(),
		campaign.Name,
		campaign.Description,
		string(campaign.CreditType),
		campaign.CreditAmount,
		campaign.TotalBudget,
		campaign.AllocatedAmount,
		campaign.StartDate,
		campaign.EndDate,
		campaign.ExpirationDays,
		campaign.MaxAllocationsPerUser,
		rules,
		campaign.IsActive,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create credit campaign: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCampaignByID(ctx context.Context, campaignID id.CampaignID) (*models.CreditCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM credit_campaigns WHERE id = $1`
	c, err := scanCampaign(s.execer(ctx).QueryRowContext(ctx, query, campaignID.String()))
	if err != nil {
		return nil, notFoundOr(err, "get credit campaign")
	}
	return c, nil
}

// UpdateCampaignBudget reserves (delta > 0) or releases (delta < 0) budget.
// The conditional WHERE makes concurrent reservations unable to overshoot.
func (s *PostgresStore) UpdateCampaignBudget(ctx context.Context, campaignID id.CampaignID, delta int64) (bool, error) {
	query := `
		UPDATE credit_campaigns
		SET allocated_amount = allocated_amount + $2, updated_at = NOW()
		WHERE id = $1
		  AND allocated_amount + $2 <= total_budget
		  AND allocated_amount + $2 >= 0
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, campaignID.String(), delta)
	if err != nil {
		return false, fmt.Errorf("update campaign budget: %w", err)
	}
	applied, err := rowsApplied(result, "update campaign budget")
	if err != nil || applied {
		return applied, err
	}
	if _, err := s.GetCampaignByID(ctx, campaignID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) GetActiveCampaigns(ctx context.Context, creditType *models.CreditType, now time.Time) ([]*models.CreditCampaign, error) {
	var typeFilter sql.NullString
	if creditType != nil {
		typeFilter = sql.NullString{String: string(*creditType), Valid: true}
	}
	query := `
		SELECT ` + campaignColumns + `
		FROM credit_campaigns
		WHERE is_active
		  AND start_date <= $1
		  AND end_date >= $1
		  AND ($2::text IS NULL OR credit_type = $2)
		ORDER BY end_date ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, now, typeFilter)
	if err != nil {
		return nil, fmt.Errorf("get active campaigns: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditCampaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credit campaigns: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountUserCampaignAllocations(ctx context.Context, userID id.UserID, campaignID id.CampaignID) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM credit_allocations WHERE user_id = $1 AND campaign_id = $2`,
		userID.String(), campaignID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user campaign allocations: %w", err)
	}
	return count, nil
}

func scanCampaign(row rowScanner) (*models.CreditCampaign, error) {
	var (
		c          models.CreditCampaign
		campaignID uuid.UUID
		creditType string
		rules      []byte
	)
	if err := row.Scan(
		&campaignID,
		&c.Name,
		&c.Description,
		&creditType,
		&c.CreditAmount,
		&c.TotalBudget,
		&c.AllocatedAmount,
		&c.StartDate,
		&c.EndDate,
		&c.ExpirationDays,
		&c.MaxAllocationsPerUser,
		&rules,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.ID = id.CampaignID(campaignID)
	c.CreditType = models.CreditType(creditType)
	m, err := unmarshalMetadata(rules)
	if err != nil {
		return nil, err
	}
	c.EligibilityRules = m
	return &c, nil
}
