package custodian

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "custodian", cfg.ServiceName)
	require.Equal(t, 257, cfg.PartitionCount)
	require.Equal(t, 1, cfg.BackupCount)
	require.Equal(t, 256, cfg.EventBufferSize)
	require.Equal(t, 10*time.Second, cfg.OperationTimeout)
	require.Equal(t, "ceil", cfg.Quorum.Rounding)
	require.False(t, cfg.Persistence.Enabled)
	require.Equal(t, "default", cfg.Persistence.RecoveryQuorum)
	require.Equal(t, 5*time.Minute, cfg.Persistence.RecoveryTimeout)
	require.Equal(t, 2*time.Second, cfg.Membership.HeartbeatInterval)
	require.Equal(t, 6*time.Second, cfg.Membership.HeartbeatTTL)
	require.Equal(t, 1, cfg.Membership.MemberIDMin)
	require.Equal(t, "custodian-store", cfg.KVBuckets.StoreBucket)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, 257, cfg.PartitionCount)
		require.Equal(t, 0, cfg.BackupCount)
		require.Equal(t, time.Second, cfg.Persistence.CheckInterval)
		require.Equal(t, "custodian-heartbeat", cfg.KVBuckets.HeartbeatBucket)
		require.NoError(t, cfg.Validate())
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := Config{PartitionCount: 13, BackupCount: 2, Quorum: QuorumConfig{Rounding: "floor"}}
		SetDefaults(&cfg)

		require.Equal(t, 13, cfg.PartitionCount)
		require.Equal(t, 2, cfg.BackupCount)
		require.Equal(t, "floor", cfg.Quorum.Rounding)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero partitions", func(c *Config) { c.PartitionCount = -1 }},
		{"negative backups", func(c *Config) { c.BackupCount = -1 }},
		{"bad rule", func(c *Config) {
			c.Quorum.Rules = []QuorumRuleConfig{{Action: "fly", Scope: "site", Threshold: "1"}}
		}},
		{"bad rounding", func(c *Config) { c.Quorum.Rounding = "nearest" }},
		{"bad recovery quorum", func(c *Config) { c.Persistence.RecoveryQuorum = "most" }},
		{"heartbeat ttl too short", func(c *Config) { c.Membership.HeartbeatTTL = c.Membership.HeartbeatInterval }},
		{"member id ttl below heartbeat ttl", func(c *Config) { c.Membership.MemberIDTTL = time.Second }},
		{"member id range", func(c *Config) { c.Membership.MemberIDMax = 0; c.Membership.MemberIDMin = 5 }},
		{"election ttl", func(c *Config) { c.Membership.ElectionTTL = 500 * time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateWithWarnings(t *testing.T) {
	rec := logging.NewRecorder()

	cfg := DefaultConfig()
	cfg.ValidateWithWarnings(rec)
	require.Zero(t, rec.Count("WARN", ""))

	cfg.BackupCount = 0
	cfg.PartitionCount = 256
	cfg.ValidateWithWarnings(rec)
	require.Equal(t, 2, rec.Count("WARN", ""))

	rec = logging.NewRecorder()
	cfg = DefaultConfig()
	cfg.Quorum.Rules = []QuorumRuleConfig{
		{Action: "write", Scope: "site", Threshold: "50%"},
		{Action: "read", Threshold: "3"},
	}
	cfg.ValidateWithWarnings(rec)
	require.Equal(t, 1, rec.Count("WARN", ""), "only the percentage rule is flagged")
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.Persistence.CheckInterval, DefaultConfig().Persistence.CheckInterval)
}

const sampleYAML = `
serviceName: orders
partitionCount: 31
backupCount: 2
quorum:
  rounding: floor
  rules:
    - action: write
      scope: site
      threshold: "50%"
    - action: read
      threshold: "3"
persistence:
  enabled: true
  recoveryQuorum: "33%"
  recoveryTimeout: 90s
membership:
  heartbeatInterval: 1s
  heartbeatTtl: 3s
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "orders", cfg.ServiceName)
	require.Equal(t, 31, cfg.PartitionCount)
	require.Equal(t, 2, cfg.BackupCount)
	require.True(t, cfg.Persistence.Enabled)
	require.Equal(t, 90*time.Second, cfg.Persistence.RecoveryTimeout)
	require.Equal(t, time.Second, cfg.Persistence.CheckInterval)
	require.Equal(t, 3*time.Second, cfg.Membership.HeartbeatTTL)
	require.Equal(t, 30*time.Second, cfg.Membership.MemberIDTTL)

	rules, err := cfg.quorumRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, types.ActionWrite, rules[0].Action)
	require.Equal(t, types.SiteScope, rules[0].Scope)
	require.Equal(t, types.AllMembers, rules[1].Scope)

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseConfig([]byte("partitionCount: [1"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := ParseConfig([]byte("persistence:\n  recoveryQuorum: lots\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("round trips through yaml", func(t *testing.T) {
		out, err := yaml.Marshal(cfg)
		require.NoError(t, err)

		again, err := ParseConfig(out)
		require.NoError(t, err)
		require.Equal(t, cfg, again)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "orders", cfg.ServiceName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
