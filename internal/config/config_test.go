package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/meghan/community-chat/internal/community"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{"JWT_SECRET": "a-long-secret"})
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Empty(t, cfg.DatabaseURL)
	require.Equal(t, 5*time.Second, cfg.SendTimeout)
	require.Equal(t, 3*time.Second, cfg.ClassifierTimeout)
	require.Equal(t, "open", cfg.ClassifierFailurePolicy)
	require.Equal(t, 256, cfg.CrisisQueueSize)
	require.True(t, cfg.SeedDefaultRooms)
	require.Nil(t, cfg.AllowOrigins())
	require.Equal(t, community.Limits{community.KindCommunity: 2000, community.KindExpression: 280}, cfg.Limits())
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"JWT_SECRET":                "a-long-secret",
		"DATABASE_URL":              "postgres://localhost/chat?sslmode=disable",
		"CLASSIFIER_URL":            "http://classifier:9000/assess",
		"CLASSIFIER_FAILURE_POLICY": "closed",
		"SEND_TIMEOUT":              "250ms",
		"EXPRESSION_MAX_LENGTH":     "140",
		"LOG_FORMAT":                "json",
		"CORS_ORIGINS":              "https://app.example.com, ,https://admin.example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "closed", cfg.ClassifierFailurePolicy)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowOrigins())
	require.Equal(t, 250*time.Millisecond, cfg.SendTimeout)
	require.Equal(t, 140, cfg.Limits().For(community.KindExpression))

	log, err := cfg.NewLogger()
	require.NoError(t, err)
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]map[string]string{
		"missing secret": {},
		"short secret":   {"JWT_SECRET": "short"},
		"bad policy":     {"JWT_SECRET": "a-long-secret", "CLASSIFIER_FAILURE_POLICY": "maybe"},
		"bad log format": {"JWT_SECRET": "a-long-secret", "LOG_FORMAT": "xml"},
		"bad url":        {"JWT_SECRET": "a-long-secret", "CLASSIFIER_URL": "not a url"},
		"zero cap":       {"JWT_SECRET": "a-long-secret", "COMMUNITY_MAX_LENGTH": "0"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(vars)
			require.Error(t, err)
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg, err := Parse(map[string]string{"JWT_SECRET": "a-long-secret", "LOG_LEVEL": "debug"})
	require.NoError(t, err)
	log, err := cfg.NewLogger()
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestParseWatch(t *testing.T) {
	cfg, err := ParseWatch(map[string]string{})
	require.NoError(t, err)
	require.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	require.Equal(t, "crisiswatch", cfg.QueueGroup)
	require.Empty(t, cfg.RedisAddr)
	require.Equal(t, 24*time.Hour, cfg.EscalationWindow)
	require.Equal(t, 3, cfg.EscalationThreshold)

	_, err = ParseWatch(map[string]string{"ESCALATION_THRESHOLD": "0"})
	require.Error(t, err)
}
