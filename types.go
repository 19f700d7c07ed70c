// Package minerfleet is the control plane for a fleet of heterogeneous
// cryptocurrency miners. It normalises miner telemetry, persists the time
// series that backs it, and drives device state through the Agile Solo
// energy-price strategy, the generic pool-strategy engine, and the
// automation-rule engine, reconciling drift between intended and observed
// state on every tick.
package minerfleet

import (
	"strconv"
	"time"
)

// Family identifies a miner's protocol/firmware family. Each family maps to
// exactly one adapter implementation in pkg/adapter.
type Family string

const (
	FamilyAvalonNano Family = "AvalonNano"
	FamilyBitaxe     Family = "Bitaxe"
	FamilyNerdQaxe   Family = "NerdQaxe"
	FamilyNMMiner    Family = "NMMiner"
	FamilyXMRig      Family = "XMRig"
)

// IsPassive reports whether the family self-reports telemetry over UDP
// rather than being polled.
func (f Family) IsPassive() bool {
	return f == FamilyNMMiner
}

// IsFixedSlot reports whether the family's pool slots are a fixed,
// non-extensible set read from the device.
func (f Family) IsFixedSlot() bool {
	return f == FamilyAvalonNano
}

// IsASIC reports whether the family is ASIC hardware. CPU miners are
// excluded from best-share/block tracking: their session difficulty figures
// are not comparable to ASIC share difficulties.
func (f Family) IsASIC() bool {
	return f != FamilyXMRig
}

// Miner is an enrolled device, created and deleted only by the operator.
type Miner struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"size:128;not null"`
	Family           Family `gorm:"size:32;not null;index"`
	Host             string `gorm:"size:255;not null"`
	Port             *int
	CurrentMode      *string `gorm:"size:32"`
	FirmwareVersion  string  `gorm:"size:64"`
	ManualPowerWatts *float64
	Enabled          bool    `gorm:"not null;default:true"`
	Config           JSONMap `gorm:"type:text"`
	LastModeChange   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Miner) TableName() string { return "miners" }

// Pool is an operator-defined mining pool endpoint.
type Pool struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"size:128;not null"`
	Host              string `gorm:"size:255;not null"`
	Port              int    `gorm:"not null"`
	User              string `gorm:"size:255"`
	Password          string `gorm:"size:255"`
	Enabled           bool   `gorm:"not null;default:true"`
	Priority          int    `gorm:"not null;default:0"`
	NetworkDifficulty *float64
	DifficultyStale   bool `gorm:"not null;default:false"`
	BestShare         *float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (Pool) TableName() string { return "pools" }

// URL returns the host:port form used to match against adapter-reported
// pool_in_use strings and device slot tables.
func (p Pool) URL() string {
	return normalizeHostPort(p.Host, p.Port)
}

// MinerPoolSlot mirrors one fixed pool slot on a fixed-slot-family device.
type MinerPoolSlot struct {
	MinerID    uint `gorm:"primaryKey;autoIncrement:false"`
	SlotNumber int  `gorm:"primaryKey;autoIncrement:false"`
	PoolID     *uint
	PoolURL    string `gorm:"size:255"`
	PoolPort   int
	PoolUser   string `gorm:"size:255"`
	IsActive   bool
	LastSeen   time.Time
}

func (MinerPoolSlot) TableName() string { return "miner_pool_slots" }

// HashrateUnit is the normalised unit of Telemetry.Hashrate.
type HashrateUnit string

const (
	UnitHS  HashrateUnit = "H/s"
	UnitKHS HashrateUnit = "KH/s"
	UnitMHS HashrateUnit = "MH/s"
	UnitGHS HashrateUnit = "GH/s"
	UnitTHS HashrateUnit = "TH/s"
)

// Telemetry is one append-only poll result for a single miner.
type Telemetry struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	MinerID        uint      `gorm:"not null;index:idx_miner_ts,priority:1"`
	Timestamp      time.Time `gorm:"not null;index:idx_miner_ts,priority:2;index"`
	Hashrate       float64
	HashrateUnit   HashrateUnit `gorm:"size:8"`
	Temperature    *float64
	PowerWatts     *float64
	SharesAccepted *int64
	SharesRejected *int64
	PoolInUse      string  `gorm:"size:255"`
	Data           JSONMap `gorm:"type:text"`
}

func (Telemetry) TableName() string { return "telemetry" }

// EnergyPrice is a 30-minute tariff slot for a region.
type EnergyPrice struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Region     string    `gorm:"size:4;not null;index:idx_region_from,priority:1"`
	ValidFrom  time.Time `gorm:"not null;index:idx_region_from,priority:2"`
	ValidTo    time.Time `gorm:"not null"`
	PricePence float64
}

func (EnergyPrice) TableName() string { return "energy_prices" }

// ManagedExternally is the FamilyModes value meaning another controller
// owns the device's mode.
const ManagedExternally = "managed_externally"

// OffCoin is the sentinel target_coin value meaning "shut down".
const OffCoin = "OFF"

// AgileStrategyBand is one contiguous price band of the Agile Solo strategy.
type AgileStrategyBand struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	StrategyID uint `gorm:"not null;index"`
	SortOrder  int  `gorm:"not null"`
	MinPrice   *float64
	MaxPrice   *float64
	TargetCoin string `gorm:"size:16;not null"`
	// FamilyModes maps a Family to its target mode string for this band, or
	// to ManagedExternally when another controller owns the device's mode.
	FamilyModes JSONMap `gorm:"type:text"`
}

func (AgileStrategyBand) TableName() string { return "agile_strategy_bands" }

// Covers reports whether price falls within [MinPrice, MaxPrice) with
// open-ended nulls.
func (b AgileStrategyBand) Covers(price float64) bool {
	if b.MinPrice != nil && price < *b.MinPrice {
		return false
	}
	if b.MaxPrice != nil && price >= *b.MaxPrice {
		return false
	}
	return true
}

// ModeFor returns the target mode string configured for a family, and
// whether the family has any configured mode at all.
func (b AgileStrategyBand) ModeFor(f Family) (string, bool) {
	if b.FamilyModes == nil {
		return "", false
	}
	v, ok := b.FamilyModes[string(f)]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AgileStrategy is the singleton state-machine row for the Agile Solo
// strategy.
type AgileStrategy struct {
	ID                uint `gorm:"primaryKey;autoIncrement"`
	Enabled           bool `gorm:"not null;default:false"`
	CurrentPriceBand  *uint
	HysteresisCounter int // reserved; always 0 under look-ahead confirmation
	LastActionTime    *time.Time
	LastPriceChecked  *float64
	StateData         JSONMap `gorm:"type:text"`
}

func (AgileStrategy) TableName() string { return "agile_strategy" }

// MinerStrategy enrols a miner into the Agile Solo strategy.
type MinerStrategy struct {
	MinerID         uint `gorm:"primaryKey;autoIncrement:false"`
	StrategyEnabled bool `gorm:"not null;default:true"`
}

func (MinerStrategy) TableName() string { return "miner_strategies" }

// PoolStrategyType identifies one of the three generic pool-strategy
// kinds.
type PoolStrategyType string

const (
	StrategyRoundRobin  PoolStrategyType = "round_robin"
	StrategyLoadBalance PoolStrategyType = "load_balance"
	StrategyProMode     PoolStrategyType = "pro_mode"
)

// PoolStrategy governs pool assignment for a set of miners.
type PoolStrategy struct {
	ID               uint             `gorm:"primaryKey;autoIncrement"`
	Name             string           `gorm:"size:128;not null"`
	StrategyType     PoolStrategyType `gorm:"size:32;not null"`
	Enabled          bool             `gorm:"not null;default:true"`
	PoolIDs          Uints            `gorm:"type:text"`
	MinerIDs         Uints            `gorm:"type:text"`
	Config           JSONMap          `gorm:"type:text"`
	CurrentPoolIndex int
	LastSwitch       *time.Time
}

func (PoolStrategy) TableName() string { return "pool_strategies" }

// PoolStrategyLog records one execution tick's outcome.
type PoolStrategyLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	StrategyID uint      `gorm:"not null;index"`
	Timestamp  time.Time `gorm:"not null;index"`
	Outcome    JSONMap   `gorm:"type:text"`
	AllFailed  bool
}

func (PoolStrategyLog) TableName() string { return "pool_strategy_logs" }

// TriggerType identifies an automation-rule trigger kind.
type TriggerType string

const (
	TriggerPriceThreshold TriggerType = "price_threshold"
	TriggerTimeWindow     TriggerType = "time_window"
	TriggerMinerOffline   TriggerType = "miner_offline"
	TriggerMinerOverheat  TriggerType = "miner_overheat"
	TriggerPoolFailure    TriggerType = "pool_failure"
)

// ActionType identifies an automation-rule action kind.
type ActionType string

const (
	ActionApplyMode  ActionType = "apply_mode"
	ActionSwitchPool ActionType = "switch_pool"
	ActionSendAlert  ActionType = "send_alert"
	ActionLogEvent   ActionType = "log_event"
)

// AutomationRule is one trigger/action pair, evaluated ascending by
// Priority.
type AutomationRule struct {
	ID                   uint        `gorm:"primaryKey;autoIncrement"`
	Name                 string      `gorm:"size:128;not null"`
	Enabled              bool        `gorm:"not null;default:true"`
	TriggerType          TriggerType `gorm:"size:32;not null"`
	TriggerConfig        JSONMap     `gorm:"type:text"`
	ActionType           ActionType  `gorm:"size:32;not null"`
	ActionConfig         JSONMap     `gorm:"type:text"`
	Priority             int         `gorm:"not null;default:0;index"`
	LastExecutedAt       *time.Time
	LastExecutionContext JSONMap `gorm:"type:text"`
}

func (AutomationRule) TableName() string { return "automation_rules" }

// HighDiffShare is a per-miner personal-best share snapshot. At
// most 30 rows are retained per miner.
type HighDiffShare struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	MinerID           uint   `gorm:"not null;index"`
	Coin              string `gorm:"size:16"`
	Pool              string `gorm:"size:255"`
	Difficulty        float64
	NetworkDifficulty *float64
	Hashrate          float64
	Mode              string `gorm:"size:32"`
	WasBlockSolve     bool
	Timestamp         time.Time `gorm:"not null;index"`
}

func (HighDiffShare) TableName() string { return "high_diff_shares" }

// BlockFound is a permanent record of a solved block.
type BlockFound struct {
	ID                uint   `gorm:"primaryKey;autoIncrement"`
	MinerID           uint   `gorm:"not null;index"`
	Coin              string `gorm:"size:16"`
	Pool              string `gorm:"size:255"`
	Difficulty        float64
	NetworkDifficulty float64
	Timestamp         time.Time `gorm:"not null;index"`
}

func (BlockFound) TableName() string { return "blocks_found" }

// PoolHealth is one reachability/health sample for a pool.
type PoolHealth struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	PoolID         uint      `gorm:"not null;index:idx_pool_ts,priority:1"`
	Timestamp      time.Time `gorm:"not null;index:idx_pool_ts,priority:2"`
	IsReachable    bool
	ResponseTimeMs int
	RejectRate     float64
	SharesAccepted int64
	SharesRejected int64
	HealthScore    int
	LuckPercentage *float64
	ErrorMessage   string `gorm:"size:512"`
}

func (PoolHealth) TableName() string { return "pool_health" }

// HealthScore is an hourly composite score snapshot for a miner.
type HealthScore struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	MinerID      uint      `gorm:"not null;index"`
	Timestamp    time.Time `gorm:"not null;index"`
	OverallScore int
	SubScores    JSONMap `gorm:"type:text"`
}

func (HealthScore) TableName() string { return "health_scores" }

// EventType classifies an Event row.
type EventType string

const (
	EventInfo    EventType = "info"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
	EventAlert   EventType = "alert"
	EventSuccess EventType = "success"
)

// Event is an append-only log entry consumed by the dashboard and by alert
// delivery sinks.
type Event struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"not null;index"`
	EventType EventType `gorm:"size:16;not null"`
	Source    string    `gorm:"size:64"`
	Message   string    `gorm:"size:1024"`
	Data      JSONMap   `gorm:"type:text"`
}

func (Event) TableName() string { return "events" }

// AuditLog is an append-only record of operator and control-plane actions.
type AuditLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"not null;index"`
	Actor        string    `gorm:"size:64"`
	Action       string    `gorm:"size:128"`
	ResourceType string    `gorm:"size:64"`
	ResourceID   uint
	ResourceName string  `gorm:"size:128"`
	Changes      JSONMap `gorm:"type:text"`
	Status       string  `gorm:"size:32"`
	ErrorMessage string  `gorm:"size:512"`
}

func (AuditLog) TableName() string { return "audit_log" }

func normalizeHostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
