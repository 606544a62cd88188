// Package store defines the read-side schema the indexer projects campaign
// events into.
package store

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Campaign states as stored.
const (
	StateFundraising      = "fundraising"
	StateSuccessful       = "successful"
	StateFailed           = "failed"
	StateWithdrawalClosed = "withdrawal_closed"
)

// Refund kinds.
const (
	RefundKindRefund  = "refund"
	RefundKindReclaim = "reclaim"
)

// BaseEvent contains the log position shared by event rows. A log is
// stored at most once per table.
type BaseEvent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	BlockNumber uint64    `gorm:"index;not null" json:"blockNumber"`
	TxHash      string    `gorm:"type:varchar(66);not null;index:,unique,composite:tx_log" json:"txHash"`
	LogIndex    uint      `gorm:"not null;index:,unique,composite:tx_log" json:"logIndex"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
}

// BeforeCreate sets the timestamp if not already set.
func (b *BaseEvent) BeforeCreate(tx *gorm.DB) error {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now()
	}
	return nil
}

// Campaign is one factory-deployed campaign.
type Campaign struct {
	Address            string    `gorm:"primaryKey;type:varchar(42)" json:"address"`
	Name               string    `gorm:"type:text;not null" json:"name"`
	Beneficiary        string    `gorm:"type:varchar(42);index;not null" json:"beneficiary"`
	Currency           string    `gorm:"type:varchar(42);not null" json:"currency"`
	Goal               BigInt    `gorm:"type:numeric(78);not null" json:"goal"`
	Deadline           uint64    `gorm:"index;not null" json:"deadline"`
	WithdrawalPeriod   uint64    `gorm:"not null" json:"withdrawalPeriod"`
	WithdrawalDeadline uint64    `gorm:"not null;default:0" json:"withdrawalDeadline"`
	TotalContributions BigInt    `gorm:"type:numeric(78);not null;default:0;index" json:"totalContributions"`
	TotalWithdrawn     BigInt    `gorm:"type:numeric(78);not null;default:0" json:"totalWithdrawn"`
	State              string    `gorm:"type:varchar(20);not null;default:fundraising;index" json:"state"`
	CreatedBlock       uint64    `gorm:"not null" json:"createdBlock"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false;index" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`

	Contributions []Contribution `gorm:"foreignKey:CampaignAddress;references:Address" json:"-"`
}

// TableName returns the table name for Campaign.
func (Campaign) TableName() string { return "campaigns" }

// Active reports whether the campaign still accepts contributions at now
// (unix seconds).
func (c Campaign) Active(now uint64) bool {
	return c.Deadline > now
}

// Contributor is a wallet that contributed at least once.
type Contributor struct {
	Address   string    `gorm:"primaryKey;type:varchar(42)" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`

	Contributions []Contribution `gorm:"foreignKey:ContributorAddress;references:Address" json:"-"`
}

// TableName returns the table name for Contributor.
func (Contributor) TableName() string { return "contributors" }

// Contribution is one Contribution event. Same-second contributions by one
// contributor to one campaign share a row and add up.
type Contribution struct {
	ID                 string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	CampaignAddress    string    `gorm:"type:varchar(42);index;not null" json:"campaignAddress"`
	ContributorAddress string    `gorm:"type:varchar(42);index;not null" json:"contributorAddress"`
	Amount             BigInt    `gorm:"type:numeric(78);not null" json:"amount"`
	Currency           string    `gorm:"type:varchar(42);not null" json:"currency"`
	BlockNumber        uint64    `gorm:"index;not null" json:"blockNumber"`
	TxHash             string    `gorm:"type:varchar(66);not null" json:"txHash"`
	LogIndex           uint      `gorm:"not null" json:"logIndex"`
	CreatedAt          time.Time `gorm:"autoCreateTime:false;index" json:"createdAt"`
}

// TableName returns the table name for Contribution.
func (Contribution) TableName() string { return "contributions" }

// ContributionID is the contribution key: the contributor's checksummed
// address followed by the block timestamp in decimal.
func ContributionID(contributor common.Address, blockTime uint64) string {
	return contributor.Hex() + strconv.FormatUint(blockTime, 10)
}

// ContributionLog records each Contribution log once. Contributions with
// the same ContributionID share one Contribution row but keep their own log.
type ContributionLog struct {
	BaseEvent
	ContributionID     string `gorm:"type:varchar(128);index;not null" json:"contributionId"`
	CampaignAddress    string `gorm:"type:varchar(42);index;not null" json:"campaignAddress"`
	ContributorAddress string `gorm:"type:varchar(42);not null" json:"contributorAddress"`
	Amount             BigInt `gorm:"type:numeric(78);not null" json:"amount"`
}

// TableName returns the table name for ContributionLog.
func (ContributionLog) TableName() string { return "contribution_logs" }

// Pledge is a contributor's standing in one campaign. Balance is what is
// still refundable; Contributed never decreases.
type Pledge struct {
	CampaignAddress    string    `gorm:"primaryKey;type:varchar(42)" json:"campaignAddress"`
	ContributorAddress string    `gorm:"primaryKey;type:varchar(42);index" json:"contributorAddress"`
	Balance            BigInt    `gorm:"type:numeric(78);not null;default:0" json:"balance"`
	Contributed        BigInt    `gorm:"type:numeric(78);not null;default:0" json:"contributed"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
}

// TableName returns the table name for Pledge.
func (Pledge) TableName() string { return "pledges" }

// Refund is a Refund or ContributionReclaimed event.
type Refund struct {
	BaseEvent
	CampaignAddress    string `gorm:"type:varchar(42);index;not null" json:"campaignAddress"`
	ContributorAddress string `gorm:"type:varchar(42);index;not null" json:"contributorAddress"`
	Amount             BigInt `gorm:"type:numeric(78);not null" json:"amount"`
	Kind               string `gorm:"type:varchar(10);not null" json:"kind"`
}

// TableName returns the table name for Refund.
func (Refund) TableName() string { return "refunds" }

// Withdrawal is a beneficiary payout.
type Withdrawal struct {
	BaseEvent
	CampaignAddress string `gorm:"type:varchar(42);index;not null" json:"campaignAddress"`
	Beneficiary     string `gorm:"type:varchar(42);not null" json:"beneficiary"`
	Amount          BigInt `gorm:"type:numeric(78);not null" json:"amount"`
}

// TableName returns the table name for Withdrawal.
func (Withdrawal) TableName() string { return "withdrawals" }

// Event is the raw archive of every handled log.
type Event struct {
	BaseEvent
	ContractName string         `gorm:"type:varchar(100);index;not null" json:"contractName"`
	ContractAddr string         `gorm:"type:varchar(42);index;not null" json:"contractAddress"`
	EventName    string         `gorm:"type:varchar(100);index;not null" json:"eventName"`
	EventSig     string         `gorm:"type:varchar(66);not null" json:"eventSig"`
	Data         datatypes.JSON `gorm:"not null" json:"data"`
}

// TableName returns the table name for Event.
func (Event) TableName() string { return "events" }

// SyncStatus is the checkpoint of one indexer instance.
type SyncStatus struct {
	Indexer         string    `gorm:"primaryKey;type:varchar(100)"`
	LastBlockNumber uint64    `gorm:"not null"`
	LastBlockHash   string    `gorm:"type:varchar(66)"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// IndexerMeta stores metadata about the indexer instance.
type IndexerMeta struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for IndexerMeta.
func (IndexerMeta) TableName() string { return "indexer_meta" }

// Meta keys.
const (
	MetaInstanceID     = "instance_id"
	MetaChainID        = "chain_id"
	MetaFactoryAddress = "factory_address"
)

// AllModels returns every model in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Campaign{},
		&Contributor{},
		&Contribution{},
		&ContributionLog{},
		&Pledge{},
		&Refund{},
		&Withdrawal{},
		&Event{},
		&SyncStatus{},
		&IndexerMeta{},
	}
}
