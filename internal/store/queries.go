package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/0xredeth/doneth/pkg/store"
)

// Pagination bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// CampaignQuery filters and orders ListCampaigns.
type CampaignQuery struct {
	// ActiveAt keeps campaigns whose deadline is after this unix time.
	ActiveAt *uint64

	// Beneficiary keeps campaigns paying out to this checksummed address.
	Beneficiary string

	// OrderBy is total_contributions or created_at.
	OrderBy string

	// OrderDir is ASC or DESC.
	OrderDir string

	Limit  int
	Offset int
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

var campaignOrderColumns = map[string]string{
	"total_contributions": "total_contributions",
	"created_at":          "created_at",
}

// ListCampaigns returns a page of campaigns and the total matching count.
func (s *Store) ListCampaigns(ctx context.Context, q CampaignQuery) ([]models.Campaign, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Campaign{})

	if q.ActiveAt != nil {
		db = db.Where("deadline > ?", *q.ActiveAt)
	}
	if q.Beneficiary != "" {
		db = db.Where("beneficiary = ?", q.Beneficiary)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting campaigns: %w", err)
	}

	column, ok := campaignOrderColumns[q.OrderBy]
	if !ok {
		column = "created_at"
	}
	desc := !strings.EqualFold(q.OrderDir, "ASC")

	page := Page{Limit: q.Limit, Offset: q.Offset}.normalize()

	var campaigns []models.Campaign
	err := db.
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "address"}}).
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&campaigns).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing campaigns: %w", err)
	}

	return campaigns, total, nil
}

// GetCampaign returns the campaign at address, or nil if absent.
func (s *Store) GetCampaign(ctx context.Context, address string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting campaign %s: %w", address, err)
	}
	return &c, nil
}

// GetContributor returns the contributor at address, or nil if absent.
func (s *Store) GetContributor(ctx context.Context, address string) (*models.Contributor, error) {
	var c models.Contributor
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting contributor %s: %w", address, err)
	}
	return &c, nil
}

// GetPledge returns a contributor's standing in a campaign, or nil.
func (s *Store) GetPledge(ctx context.Context, campaign, contributor string) (*models.Pledge, error) {
	var p models.Pledge
	err := s.db.WithContext(ctx).
		Where("campaign_address = ? AND contributor_address = ?", campaign, contributor).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting pledge: %w", err)
	}
	return &p, nil
}

// PledgesByContributor returns every pledge a contributor holds.
func (s *Store) PledgesByContributor(ctx context.Context, contributor string) ([]models.Pledge, error) {
	var pledges []models.Pledge
	err := s.db.WithContext(ctx).
		Where("contributor_address = ?", contributor).
		Order("campaign_address").
		Find(&pledges).Error
	if err != nil {
		return nil, fmt.Errorf("listing pledges: %w", err)
	}
	return pledges, nil
}

// ContributionsByContributor returns a contributor's contributions, newest
// first, and the total count.
func (s *Store) ContributionsByContributor(ctx context.Context, contributor string, page Page) ([]models.Contribution, int64, error) {
	return s.contributions(ctx, "contributor_address = ?", contributor, page)
}

// ContributionsByCampaign returns a campaign's contributions, newest first,
// and the total count.
func (s *Store) ContributionsByCampaign(ctx context.Context, campaign string, page Page) ([]models.Contribution, int64, error) {
	return s.contributions(ctx, "campaign_address = ?", campaign, page)
}

func (s *Store) contributions(ctx context.Context, where string, arg string, page Page) ([]models.Contribution, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Contribution{}).Where(where, arg)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting contributions: %w", err)
	}

	page = page.normalize()

	var out []models.Contribution
	err := db.
		Order("block_number DESC").
		Order("log_index DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing contributions: %w", err)
	}
	return out, total, nil
}

// SumContributions adds up a campaign's contribution amounts.
func (s *Store) SumContributions(ctx context.Context, campaign string) (models.BigInt, error) {
	var amounts []models.BigInt
	err := s.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("campaign_address = ?", campaign).
		Pluck("amount", &amounts).Error
	if err != nil {
		return models.BigInt{}, fmt.Errorf("summing contributions: %w", err)
	}

	var sum models.BigInt
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum, nil
}

// KnownCampaignAddresses returns every indexed campaign address.
func (s *Store) KnownCampaignAddresses(ctx context.Context) ([]string, error) {
	var addrs []string
	err := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Order("created_block").
		Pluck("address", &addrs).Error
	if err != nil {
		return nil, fmt.Errorf("listing campaign addresses: %w", err)
	}
	return addrs, nil
}

// TotalsMismatch is a campaign whose running total disagrees with its
// contribution rows.
type TotalsMismatch struct {
	Campaign string
	Recorded models.BigInt
	Summed   models.BigInt
}

// VerifyTotals checks that every campaign's total_contributions equals the
// sum of its contributions.
func (s *Store) VerifyTotals(ctx context.Context) ([]TotalsMismatch, error) {
	var campaigns []models.Campaign
	if err := s.db.WithContext(ctx).Select("address", "total_contributions").Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("loading campaigns: %w", err)
	}

	var mismatches []TotalsMismatch
	for _, c := range campaigns {
		sum, err := s.SumContributions(ctx, c.Address)
		if err != nil {
			return nil, err
		}
		if sum.Cmp(c.TotalContributions) != 0 {
			mismatches = append(mismatches, TotalsMismatch{
				Campaign: c.Address,
				Recorded: c.TotalContributions,
				Summed:   sum,
			})
		}
	}
	return mismatches, nil
}

// Stats are row counts for status output.
type Stats struct {
	Campaigns     int64 `json:"campaigns"`
	Contributors  int64 `json:"contributors"`
	Contributions int64 `json:"contributions"`
	Events        int64 `json:"events"`
}

// GetStats counts the indexed rows.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	for _, c := range []struct {
		model interface{}
		dst   *int64
	}{
		{&models.Campaign{}, &st.Campaigns},
		{&models.Contributor{}, &st.Contributors},
		{&models.Contribution{}, &st.Contributions},
		{&models.Event{}, &st.Events},
	} {
		if err := db.Model(c.model).Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("counting rows: %w", err)
		}
	}
	return st, nil
}

// EventQuery filters QueryEvents.
type EventQuery struct {
	ContractAddr string
	EventName    string
	FromBlock    *uint64
	Page
}

// QueryEvents returns archived events in chain order and the total count.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]models.Event, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Event{})
	if q.ContractAddr != "" {
		db = db.Where("contract_addr = ?", q.ContractAddr)
	}
	if q.EventName != "" {
		db = db.Where("event_name = ?", q.EventName)
	}
	if q.FromBlock != nil {
		db = db.Where("block_number >= ?", *q.FromBlock)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	page := q.Page.normalize()

	var events []models.Event
	err := db.Order("block_number ASC").Order("log_index ASC").
		Limit(page.Limit).Offset(page.Offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("querying events: %w", err)
	}
	return events, total, nil
}

// GetMaxBlockNumber returns the highest block_number in table, 0 if empty.
func (s *Store) GetMaxBlockNumber(ctx context.Context, table string) (uint64, error) {
	var max int64
	err := s.db.WithContext(ctx).Table(table).Select("COALESCE(MAX(block_number), 0)").Row().Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("getting max block number: %w", err)
	}
	return uint64(max), nil
}
