package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "/v1", cfg.Server.BasePath)
	require.Contains(t, cfg.RBAC.Roles["branch_admin"].Permissions, "task.assign")
	require.NotContains(t, cfg.RBAC.Roles["delivery_user"].Permissions, "task.cancel")
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  addr: 0.0.0.0:9000\nkafka:\n  brokers: [localhost:9092]\n"))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	require.Equal(t, "/v1", cfg.Server.BasePath)
	require.Equal(t, "courierline.events", cfg.Kafka.Topic)
	require.Equal(t, 60, cfg.Redis.ReportTTLSeconds)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":    "database:\n  driver: postgres\n",
		"mysql dsn": "database:\n  driver: mysql\n",
		"base path": "server:\n  base_path: v1\n",
		"log mode":  "logging:\n  mode: verbose\n",
		"kafka":     "kafka:\n  brokers: [b:9092]\n  topic: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	require.Equal(t, Default().Database.Path, cfg.Database.Path)

	path := filepath.Join(t.TempDir(), "courierline.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  mode: development\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Logging.Mode)
}
