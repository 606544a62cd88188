package indexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/0xredeth/doneth/pkg/handler"
	models "github.com/0xredeth/doneth/pkg/store"
)

// ErrUnknownCampaign is returned when a campaign event arrives for an
// address that has no Campaign row.
var ErrUnknownCampaign = errors.New("unknown campaign")

// nativeCurrency is the currency of native-token campaigns.
var nativeCurrency = common.Address{}.Hex()

// campaignFields are the arguments CampaignStarted and CampaignCreated share.
type campaignFields struct {
	beneficiary      common.Address
	goal             models.BigInt
	deadline         uint64
	withdrawalPeriod uint64
	name             string
}

func readCampaignFields(ctx *handler.Context) (campaignFields, error) {
	var f campaignFields
	var err error

	if f.beneficiary, err = addressArg(ctx, "beneficiary"); err != nil {
		return f, err
	}
	goal, err := bigArg(ctx, "goal")
	if err != nil {
		return f, err
	}
	f.goal = models.NewBigInt(goal)
	if f.deadline, err = uintArg(ctx, "deadline"); err != nil {
		return f, err
	}
	if f.withdrawalPeriod, err = uintArg(ctx, "withdrawalPeriod"); err != nil {
		return f, err
	}
	if f.name, err = stringArg(ctx, "name"); err != nil {
		return f, err
	}
	return f, nil
}

// insertCampaign creates the Campaign row unless it already exists.
func insertCampaign(ctx *handler.Context, address common.Address, f campaignFields) error {
	c := models.Campaign{
		Address:          address.Hex(),
		Name:             f.name,
		Beneficiary:      f.beneficiary.Hex(),
		Currency:         nativeCurrency,
		Goal:             f.goal,
		Deadline:         f.deadline,
		WithdrawalPeriod: f.withdrawalPeriod,
		State:            models.StateFundraising,
		CreatedBlock:     ctx.Block.Number,
		CreatedAt:        ctx.Block.Time,
		UpdatedAt:        ctx.Block.Time,
	}
	res := ctx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
	if res.Error != nil {
		return fmt.Errorf("inserting campaign %s: %w", c.Address, res.Error)
	}
	if res.RowsAffected == 1 {
		log.Info().
			Str("campaign", c.Address).
			Str("name", c.Name).
			Uint64("block", ctx.Block.Number).
			Msg("campaign indexed")
	}
	return nil
}

func handleCampaignCreated(ctx *handler.Context) error {
	addr, err := addressArg(ctx, "campaignAddress")
	if err != nil {
		return err
	}
	f, err := readCampaignFields(ctx)
	if err != nil {
		return err
	}
	return insertCampaign(ctx, addr, f)
}

func handleCampaignStarted(ctx *handler.Context) error {
	f, err := readCampaignFields(ctx)
	if err != nil {
		return err
	}
	return insertCampaign(ctx, ctx.Event.Address, f)
}

func loadCampaign(tx *gorm.DB, address string) (*models.Campaign, error) {
	var c models.Campaign
	err := tx.Where("address = ?", address).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w %s", ErrUnknownCampaign, address)
	}
	if err != nil {
		return nil, fmt.Errorf("loading campaign %s: %w", address, err)
	}
	return &c, nil
}

func updateCampaign(ctx *handler.Context, address string, fields map[string]interface{}) error {
	fields["updated_at"] = ctx.Block.Time
	err := ctx.DB.Model(&models.Campaign{}).Where("address = ?", address).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("updating campaign %s: %w", address, err)
	}
	return nil
}

func loadPledge(tx *gorm.DB, campaign, contributor string) (*models.Pledge, error) {
	var p models.Pledge
	err := tx.Where("campaign_address = ? AND contributor_address = ?", campaign, contributor).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading pledge: %w", err)
	}
	return &p, nil
}

func handleContribution(ctx *handler.Context) error {
	contributor, err := addressArg(ctx, "contributor")
	if err != nil {
		return err
	}
	raw, err := bigArg(ctx, "amount")
	if err != nil {
		return err
	}
	amount := models.NewBigInt(raw)
	campaignAddr := ctx.Event.Address.Hex()

	c, err := loadCampaign(ctx.DB, campaignAddr)
	if err != nil {
		return err
	}

	now := ctx.Block.Time
	err = ctx.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"updated_at": now}),
	}).Create(&models.Contributor{
		Address:   contributor.Hex(),
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
	if err != nil {
		return fmt.Errorf("upserting contributor %s: %w", contributor.Hex(), err)
	}

	entry := models.ContributionLog{
		BaseEvent:          baseEvent(ctx),
		ContributionID:     models.ContributionID(contributor, uint64(now.Unix())),
		CampaignAddress:    campaignAddr,
		ContributorAddress: contributor.Hex(),
		Amount:             amount,
	}
	res := ctx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return fmt.Errorf("inserting contribution log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Debug().Str("tx", entry.TxHash).Uint("log_index", entry.LogIndex).Msg("contribution already indexed")
		return nil
	}

	id, err := recordContribution(ctx, &entry, c.Currency)
	if err != nil {
		return err
	}
	if id != entry.ContributionID {
		if err := ctx.DB.Model(&entry).Update("contribution_id", id).Error; err != nil {
			return fmt.Errorf("linking contribution log: %w", err)
		}
	}

	if err := updateCampaign(ctx, campaignAddr, map[string]interface{}{
		"total_contributions": c.TotalContributions.Add(amount),
	}); err != nil {
		return err
	}

	p, err := loadPledge(ctx.DB, campaignAddr, entry.ContributorAddress)
	if err != nil {
		return err
	}
	if p == nil {
		p = &models.Pledge{CampaignAddress: campaignAddr, ContributorAddress: entry.ContributorAddress}
	}
	p.Balance = p.Balance.Add(amount)
	p.Contributed = p.Contributed.Add(amount)
	p.UpdatedAt = now
	if err := ctx.DB.Save(p).Error; err != nil {
		return fmt.Errorf("saving pledge: %w", err)
	}
	return nil
}

// recordContribution inserts the Contribution row for entry, or adds to the
// row already holding its id when one contributor gave twice in the same
// block timestamp. An id held by another campaign gets the campaign address
// appended.
//
// Returns:
//   - string: the id of the row that now includes entry
//   - error: nil on success, store error on failure
func recordContribution(ctx *handler.Context, entry *models.ContributionLog, currency string) (string, error) {
	id := entry.ContributionID
	var existing models.Contribution
	err := ctx.DB.Where("id = ?", id).Limit(1).Find(&existing).Error
	if err != nil {
		return "", fmt.Errorf("loading contribution %s: %w", id, err)
	}
	if existing.ID != "" && existing.CampaignAddress != entry.CampaignAddress {
		id = id + ":" + entry.CampaignAddress
		existing = models.Contribution{}
		if err := ctx.DB.Where("id = ?", id).Limit(1).Find(&existing).Error; err != nil {
			return "", fmt.Errorf("loading contribution %s: %w", id, err)
		}
	}

	if existing.ID != "" {
		err := ctx.DB.Model(&existing).Update("amount", existing.Amount.Add(entry.Amount)).Error
		if err != nil {
			return "", fmt.Errorf("merging contribution %s: %w", id, err)
		}
		log.Debug().Str("id", id).Str("tx", entry.TxHash).Msg("contribution merged into same-second row")
		return id, nil
	}

	row := models.Contribution{
		ID:                 id,
		CampaignAddress:    entry.CampaignAddress,
		ContributorAddress: entry.ContributorAddress,
		Amount:             entry.Amount,
		Currency:           currency,
		BlockNumber:        entry.BlockNumber,
		TxHash:             entry.TxHash,
		LogIndex:           entry.LogIndex,
		CreatedAt:          entry.Timestamp,
	}
	if err := ctx.DB.Create(&row).Error; err != nil {
		return "", fmt.Errorf("inserting contribution %s: %w", id, err)
	}
	return id, nil
}

func handleRefund(ctx *handler.Context) error {
	return applyRefund(ctx, models.RefundKindRefund)
}

func handleContributionReclaimed(ctx *handler.Context) error {
	return applyRefund(ctx, models.RefundKindReclaim)
}

// applyRefund records a payout back to a contributor and lowers their
// pledge balance. Campaign totals are not touched.
func applyRefund(ctx *handler.Context, kind string) error {
	contributor, err := addressArg(ctx, "contributor")
	if err != nil {
		return err
	}
	raw, err := bigArg(ctx, "amount")
	if err != nil {
		return err
	}
	amount := models.NewBigInt(raw)
	campaignAddr := ctx.Event.Address.Hex()

	c, err := loadCampaign(ctx.DB, campaignAddr)
	if err != nil {
		return err
	}

	row := models.Refund{
		BaseEvent:          baseEvent(ctx),
		CampaignAddress:    campaignAddr,
		ContributorAddress: contributor.Hex(),
		Amount:             amount,
		Kind:               kind,
	}
	res := ctx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("inserting refund: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	p, err := loadPledge(ctx.DB, campaignAddr, row.ContributorAddress)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%s for %s without a pledge in %s", kind, row.ContributorAddress, campaignAddr)
	}
	p.Balance = p.Balance.Sub(amount)
	if p.Balance.Sign() < 0 {
		return fmt.Errorf("%s of %s exceeds pledge balance in %s", kind, amount, campaignAddr)
	}
	p.UpdatedAt = ctx.Block.Time
	if err := ctx.DB.Save(p).Error; err != nil {
		return fmt.Errorf("saving pledge: %w", err)
	}

	// The first reclaim after a missed withdrawal window closes it.
	if kind == models.RefundKindReclaim && c.State == models.StateSuccessful {
		return updateCampaign(ctx, campaignAddr, map[string]interface{}{
			"state": models.StateWithdrawalClosed,
		})
	}
	return nil
}

func handleWithdrawal(ctx *handler.Context) error {
	beneficiary, err := addressArg(ctx, "beneficiary")
	if err != nil {
		return err
	}
	raw, err := bigArg(ctx, "amount")
	if err != nil {
		return err
	}
	amount := models.NewBigInt(raw)
	campaignAddr := ctx.Event.Address.Hex()

	c, err := loadCampaign(ctx.DB, campaignAddr)
	if err != nil {
		return err
	}

	row := models.Withdrawal{
		BaseEvent:       baseEvent(ctx),
		CampaignAddress: campaignAddr,
		Beneficiary:     beneficiary.Hex(),
		Amount:          amount,
	}
	res := ctx.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("inserting withdrawal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	return updateCampaign(ctx, campaignAddr, map[string]interface{}{
		"total_withdrawn": c.TotalWithdrawn.Add(amount),
	})
}

func handleCampaignSuccessful(ctx *handler.Context) error {
	deadline, err := uintArg(ctx, "withdrawalDeadline")
	if err != nil {
		return err
	}
	campaignAddr := ctx.Event.Address.Hex()
	if _, err := loadCampaign(ctx.DB, campaignAddr); err != nil {
		return err
	}
	return updateCampaign(ctx, campaignAddr, map[string]interface{}{
		"state":               models.StateSuccessful,
		"withdrawal_deadline": deadline,
	})
}

func handleCampaignFailed(ctx *handler.Context) error {
	campaignAddr := ctx.Event.Address.Hex()
	if _, err := loadCampaign(ctx.DB, campaignAddr); err != nil {
		return err
	}
	return updateCampaign(ctx, campaignAddr, map[string]interface{}{
		"state": models.StateFailed,
	})
}

func baseEvent(ctx *handler.Context) models.BaseEvent {
	ts := ctx.Block.Time
	if ts.IsZero() {
		ts = time.Unix(0, 0).UTC()
	}
	return models.BaseEvent{
		BlockNumber: ctx.Block.Number,
		TxHash:      ctx.Log.TxHash.Hex(),
		LogIndex:    ctx.Log.Index,
		Timestamp:   ts,
	}
}
