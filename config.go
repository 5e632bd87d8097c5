package custodian

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/custodian/internal/quorum"
	"github.com/arloliu/custodian/types"
)

// QuorumRuleConfig is the textual form of a quorum rule.
//
// Example (YAML):
//
//	action: write
//	scope: site
//	threshold: "50%"
type QuorumRuleConfig struct {
	// Action is one of distribute, restore, read, write, backup, recover.
	Action string `yaml:"action"`

	// Scope is all, machine, rack, site or role=<name>.
	Scope string `yaml:"scope"`

	// Threshold is an absolute count ("3") or a percentage ("50%").
	Threshold string `yaml:"threshold"`
}

// QuorumConfig controls action-class gating.
type QuorumConfig struct {
	// Rules are applied once the first member joins; percentages resolve
	// against that baseline until SetQuorumRule resolves them again.
	Rules []QuorumRuleConfig `yaml:"rules"`

	// ReportInterval is the minimum time between log reports of one disallowed action class.
	ReportInterval time.Duration `yaml:"reportInterval"`

	// Rounding is "ceil" (default) or "floor" for percentage recovery quorums.
	Rounding string `yaml:"rounding"`
}

// PersistenceConfig controls recovery of persisted partition stores.
type PersistenceConfig struct {
	// Enabled starts the service in a recovery episode.
	Enabled bool `yaml:"enabled"`

	// RecoveryQuorum is "default" (two thirds of the last known healthy
	// membership), an absolute count, or a percentage "N%".
	RecoveryQuorum string `yaml:"recoveryQuorum"`

	// RecoveryTimeout is how long orphans may wait before being reported.
	// The episode keeps waiting after a report.
	RecoveryTimeout time.Duration `yaml:"recoveryTimeout"`

	// CheckInterval is how often the event loop re-evaluates recovery and timeouts.
	CheckInterval time.Duration `yaml:"checkInterval"`

	// SharedStorage marks stores as reachable from every machine. When
	// false, recovery also waits until the least loaded machine is back to
	// two thirds of its last known member count.
	SharedStorage bool `yaml:"sharedStorage"`
}

// MembershipConfig controls the NATS membership binding used by Node.
type MembershipConfig struct {
	// HeartbeatInterval is how often members publish heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// HeartbeatTTL is how long a heartbeat stays valid before the member is
	// treated as failed. Must be >= 2*HeartbeatInterval.
	HeartbeatTTL time.Duration `yaml:"heartbeatTtl"`

	// MemberIDMin and MemberIDMax bound the claimable member ids (inclusive, MemberIDMin >= 1).
	MemberIDMin int `yaml:"memberIdMin"`
	MemberIDMax int `yaml:"memberIdMax"`

	// MemberIDTTL is how long a member id claim stays valid without renewal.
	MemberIDTTL time.Duration `yaml:"memberIdTtl"`

	// ElectionTTL is the seniority lease. Whole seconds, at least 1s.
	ElectionTTL time.Duration `yaml:"electionTtl"`
}

// KVBucketConfig configures NATS JetStream KV bucket names.
type KVBucketConfig struct {
	// MemberIDBucket holds member id claims.
	MemberIDBucket string `yaml:"memberIdBucket"`

	// ElectionBucket holds the seniority lease.
	ElectionBucket string `yaml:"electionBucket"`

	// HeartbeatBucket holds member heartbeats.
	HeartbeatBucket string `yaml:"heartbeatBucket"`

	// StoreBucket holds the store catalog, published tokens and quorum info. It has no TTL.
	StoreBucket string `yaml:"storeBucket"`
}

// Config is the configuration for the Service and Node.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// ServiceName labels logs and the local member's role when none is set.
	ServiceName string `yaml:"serviceName"`

	// PartitionCount is fixed for the service's lifetime. Prime counts spread best.
	PartitionCount int `yaml:"partitionCount"`

	// BackupCount is the number of backup copies per partition. 0 is valid
	// and never replaced by a default.
	BackupCount int `yaml:"backupCount"`

	// EventBufferSize is the event loop's queue capacity.
	EventBufferSize int `yaml:"eventBufferSize"`

	// OperationTimeout bounds KV operations and token collection.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Quorum      QuorumConfig      `yaml:"quorum"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Membership  MembershipConfig  `yaml:"membership"`
	KVBuckets   KVBucketConfig    `yaml:"kvBuckets"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		ServiceName:      "custodian",
		PartitionCount:   257,
		BackupCount:      1,
		EventBufferSize:  256,
		OperationTimeout: 10 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Quorum: QuorumConfig{
			ReportInterval: time.Minute,
			Rounding:       "ceil",
		},
		Persistence: PersistenceConfig{
			Enabled:         false,
			RecoveryQuorum:  "default",
			RecoveryTimeout: 5 * time.Minute,
			CheckInterval:   time.Second,
		},
		Membership: MembershipConfig{
			HeartbeatInterval: 2 * time.Second,
			HeartbeatTTL:      6 * time.Second,
			MemberIDMin:       1,
			MemberIDMax:       1024,
			MemberIDTTL:       30 * time.Second,
			ElectionTTL:       6 * time.Second,
		},
		KVBuckets: KVBucketConfig{
			MemberIDBucket:  "custodian-member-id",
			ElectionBucket:  "custodian-election",
			HeartbeatBucket: "custodian-heartbeat",
			StoreBucket:     "custodian-store",
		},
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// BackupCount and Persistence.Enabled are left as given.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ServiceName
	}
	if cfg.PartitionCount == 0 {
		cfg.PartitionCount = defaults.PartitionCount
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = defaults.EventBufferSize
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.Quorum.ReportInterval == 0 {
		cfg.Quorum.ReportInterval = defaults.Quorum.ReportInterval
	}
	if cfg.Quorum.Rounding == "" {
		cfg.Quorum.Rounding = defaults.Quorum.Rounding
	}
	if cfg.Persistence.RecoveryQuorum == "" {
		cfg.Persistence.RecoveryQuorum = defaults.Persistence.RecoveryQuorum
	}
	if cfg.Persistence.RecoveryTimeout == 0 {
		cfg.Persistence.RecoveryTimeout = defaults.Persistence.RecoveryTimeout
	}
	if cfg.Persistence.CheckInterval == 0 {
		cfg.Persistence.CheckInterval = defaults.Persistence.CheckInterval
	}
	if cfg.Membership.HeartbeatInterval == 0 {
		cfg.Membership.HeartbeatInterval = defaults.Membership.HeartbeatInterval
	}
	if cfg.Membership.HeartbeatTTL == 0 {
		cfg.Membership.HeartbeatTTL = defaults.Membership.HeartbeatTTL
	}
	if cfg.Membership.MemberIDMin == 0 {
		cfg.Membership.MemberIDMin = defaults.Membership.MemberIDMin
	}
	if cfg.Membership.MemberIDMax == 0 {
		cfg.Membership.MemberIDMax = defaults.Membership.MemberIDMax
	}
	if cfg.Membership.MemberIDTTL == 0 {
		cfg.Membership.MemberIDTTL = defaults.Membership.MemberIDTTL
	}
	if cfg.Membership.ElectionTTL == 0 {
		cfg.Membership.ElectionTTL = defaults.Membership.ElectionTTL
	}
	if cfg.KVBuckets.MemberIDBucket == "" {
		cfg.KVBuckets.MemberIDBucket = defaults.KVBuckets.MemberIDBucket
	}
	if cfg.KVBuckets.ElectionBucket == "" {
		cfg.KVBuckets.ElectionBucket = defaults.KVBuckets.ElectionBucket
	}
	if cfg.KVBuckets.HeartbeatBucket == "" {
		cfg.KVBuckets.HeartbeatBucket = defaults.KVBuckets.HeartbeatBucket
	}
	if cfg.KVBuckets.StoreBucket == "" {
		cfg.KVBuckets.StoreBucket = defaults.KVBuckets.StoreBucket
	}
}

// Validate checks configuration constraints and returns error for invalid values.
//
// Hard Validation Rules:
//   - PartitionCount > 0 and BackupCount >= 0
//   - EventBufferSize > 0, OperationTimeout > 0
//   - Every quorum rule, the rounding mode and the recovery quorum parse
//   - RecoveryTimeout > 0 and CheckInterval > 0
//   - HeartbeatTTL >= 2 * HeartbeatInterval (allow 1 missed heartbeat)
//   - MemberIDTTL >= HeartbeatTTL (id must outlive heartbeat)
//   - 1 <= MemberIDMin <= MemberIDMax
//   - ElectionTTL >= 1s
//
// Returns:
//   - error: Validation error wrapping ErrInvalidConfig, nil if valid
func (cfg *Config) Validate() error {
	// Rule 1: Partition layout
	if cfg.PartitionCount <= 0 {
		return fmt.Errorf("%w: PartitionCount must be > 0, got %d", ErrInvalidConfig, cfg.PartitionCount)
	}
	if cfg.BackupCount < 0 {
		return fmt.Errorf("%w: BackupCount must be >= 0, got %d", ErrInvalidConfig, cfg.BackupCount)
	}

	// Rule 2: Event loop and I/O bounds
	if cfg.EventBufferSize <= 0 {
		return fmt.Errorf("%w: EventBufferSize must be > 0, got %d", ErrInvalidConfig, cfg.EventBufferSize)
	}
	if cfg.OperationTimeout <= 0 {
		return fmt.Errorf("%w: OperationTimeout must be > 0, got %v", ErrInvalidConfig, cfg.OperationTimeout)
	}

	// Rule 3: Quorum rules
	if _, err := cfg.quorumRules(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := quorum.ParseRounding(cfg.Quorum.Rounding); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Rule 4: Recovery
	if _, err := quorum.ParseRecoverySpec(cfg.Persistence.RecoveryQuorum); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Persistence.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: RecoveryTimeout must be > 0, got %v", ErrInvalidConfig, cfg.Persistence.RecoveryTimeout)
	}
	if cfg.Persistence.CheckInterval <= 0 {
		return fmt.Errorf("%w: CheckInterval must be > 0, got %v", ErrInvalidConfig, cfg.Persistence.CheckInterval)
	}

	// Rule 5: HeartbeatTTL sanity
	ms := cfg.Membership
	if ms.HeartbeatTTL < 2*ms.HeartbeatInterval {
		return fmt.Errorf(
			"%w: HeartbeatTTL (%v) must be >= 2*HeartbeatInterval (%v) to allow one missed heartbeat",
			ErrInvalidConfig, ms.HeartbeatTTL, ms.HeartbeatInterval,
		)
	}

	// Rule 6: MemberIDTTL vs HeartbeatTTL hierarchy
	if ms.MemberIDTTL < ms.HeartbeatTTL {
		return fmt.Errorf(
			"%w: MemberIDTTL (%v) must be >= HeartbeatTTL (%v) to prevent id expiry before heartbeat",
			ErrInvalidConfig, ms.MemberIDTTL, ms.HeartbeatTTL,
		)
	}

	// Rule 7: Member id range
	if ms.MemberIDMin < 1 || ms.MemberIDMax < ms.MemberIDMin {
		return fmt.Errorf("%w: member id range [%d, %d] must satisfy 1 <= min <= max",
			ErrInvalidConfig, ms.MemberIDMin, ms.MemberIDMax)
	}

	// Rule 8: Election lease
	if ms.ElectionTTL < time.Second {
		return fmt.Errorf("%w: ElectionTTL must be >= 1s, got %v", ErrInvalidConfig, ms.ElectionTTL)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in NewService() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.BackupCount == 0 {
		logger.Warn("BackupCount is 0, every departure orphans the member's partitions")
	}

	if !isPrime(cfg.PartitionCount) {
		logger.Warn("PartitionCount is not prime, hashing may spread unevenly",
			"partitionCount", cfg.PartitionCount,
		)
	}

	if cfg.Membership.MemberIDTTL < 2*cfg.Membership.HeartbeatTTL {
		logger.Warn(
			"MemberIDTTL is below recommended minimum",
			"memberIDTTL", cfg.Membership.MemberIDTTL,
			"heartbeatTTL", cfg.Membership.HeartbeatTTL,
			"recommended", 2*cfg.Membership.HeartbeatTTL,
		)
	}

	for _, rc := range cfg.Quorum.Rules {
		if strings.HasSuffix(strings.TrimSpace(rc.Threshold), "%") {
			logger.Warn("percentage quorum rule resolves against the first member to join, call SetQuorumRule once the cluster has formed to resolve it again",
				"action", rc.Action,
				"scope", rc.Scope,
				"threshold", rc.Threshold,
			)
		}
	}

	if cfg.Persistence.Enabled && cfg.Persistence.RecoveryTimeout < 10*cfg.Persistence.CheckInterval {
		logger.Warn("RecoveryTimeout is short relative to CheckInterval, timeouts may be reported early",
			"recoveryTimeout", cfg.Persistence.RecoveryTimeout,
			"checkInterval", cfg.Persistence.CheckInterval,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Returns:
//   - Config: Configuration with fast timings and 31 partitions
//
// Example:
//
//	cfg := custodian.TestConfig()
//	cfg.Persistence.Enabled = true
//	svc, err := custodian.NewService(&cfg)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.PartitionCount = 31
	cfg.OperationTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Quorum.ReportInterval = 100 * time.Millisecond
	cfg.Persistence.RecoveryTimeout = 2 * time.Second
	cfg.Persistence.CheckInterval = 20 * time.Millisecond
	cfg.Membership.HeartbeatInterval = 200 * time.Millisecond
	cfg.Membership.HeartbeatTTL = time.Second
	cfg.Membership.MemberIDMax = 64
	cfg.Membership.MemberIDTTL = 3 * time.Second
	cfg.Membership.ElectionTTL = 2 * time.Second

	return cfg
}

// ParseConfig decodes a YAML document on top of DefaultConfig and validates it.
//
// Parameters:
//   - data: YAML document
//
// Returns:
//   - *Config: Decoded configuration
//   - error: Decode or validation error
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
//
// Example:
//
//	cfg, err := custodian.LoadConfig("/etc/custodian/config.yaml")
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

func (cfg *Config) quorumRules() ([]types.QuorumRule, error) {
	rules := make([]types.QuorumRule, 0, len(cfg.Quorum.Rules))
	for i, rc := range cfg.Quorum.Rules {
		r, err := types.ParseQuorumRule(rc.Action, rc.Scope, rc.Threshold)
		if err != nil {
			return nil, fmt.Errorf("quorum rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}

	return rules, nil
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}

	return true
}
