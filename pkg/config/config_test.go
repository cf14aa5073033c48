package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
plans_file: plans/all_energy_plans.json
history:
  path: /var/lib/tariffcost/history.json
  retention_months: 12
filter:
  effective_from: "2025-06-17"
  excluded_plans: [AGL1234MRE1, ORI999SR]
tracking:
  absolute_cheapest: true
pricing:
  workers: 4
notify:
  channel: whatsapp
  whatsapp:
    chat_id: "120363@g.us"
    timeout: 5s
profiles:
  Family_Home:
    consumption_kwh: 1500
    peak_percent: 40.5
    shoulder_percent: 19.5
    off_peak_percent: 40
    solar_export_kwh: 300
  single:
    consumption_kwh: 600
    peak_percent: 50
    shoulder_percent: 0
    off_peak_percent: 50
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tariffcost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.History.Backend)
	assert.Equal(t, 24, cfg.History.RetentionMonths)
	assert.Equal(t, []string{"AGL", "Origin Energy"}, cfg.Tracking.Baselines)
	assert.Equal(t, []string{"AGL", "Origin Energy"}, cfg.Tracking.Retailers)
	assert.Equal(t, 8, cfg.Pricing.Workers)
	assert.Equal(t, "none", cfg.Notify.Channel)
	assert.Equal(t, 15*time.Second, cfg.Notify.WhatsApp.Timeout)
	assert.Equal(t, 2, cfg.Notify.WhatsApp.Retries)
	assert.Empty(t, cfg.Profiles)

	from, err := cfg.EffectiveFrom()
	require.NoError(t, err)
	assert.True(t, from.IsZero())
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "plans/all_energy_plans.json", cfg.PlansFile)
	assert.Equal(t, 12, cfg.History.RetentionMonths)
	assert.Equal(t, []string{"AGL1234MRE1", "ORI999SR"}, cfg.Filter.ExcludedPlans)
	assert.True(t, cfg.Tracking.AbsoluteCheapest)
	assert.Equal(t, 5*time.Second, cfg.Notify.WhatsApp.Timeout)
	assert.Equal(t, "default", cfg.Notify.WhatsApp.Session)

	profiles, err := cfg.UsageProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "family_home", profiles[0].Name)
	assert.Equal(t, "1500", profiles[0].QuarterlyConsumptionKWh.String())
	assert.Equal(t, "40.5", profiles[0].PeakPercent.String())
	assert.Equal(t, "300", profiles[0].SolarExportKWh.String())
	assert.Equal(t, "single", profiles[1].Name)
	assert.True(t, profiles[1].SolarExportKWh.IsZero())
	assert.NoError(t, profiles[0].Validate())

	p, err := cfg.Profile("Family_Home")
	require.NoError(t, err)
	assert.Equal(t, "family_home", p.Name)
	_, err = cfg.Profile("nobody")
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	cc, err := cfg.Comparison()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC), cc.EffectiveFrom)
	assert.Equal(t, 4, cc.Workers)
	assert.True(t, cc.TrackAbsoluteCheapest)

	opts := cfg.NotifyOptions()
	assert.Equal(t, "whatsapp", opts.Channel)
	assert.Equal(t, "120363@g.us", opts.WhatsApp.ChatID)
	assert.Equal(t, 2, opts.WhatsApp.Retries)

	ch := cfg.ClickHouseStore()
	assert.Equal(t, "tariffcost", ch.Database)
	assert.Equal(t, 9000, ch.Port)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TARIFFCOST_HISTORY_RETENTION_MONTHS", "6")
	t.Setenv("TARIFFCOST_NOTIFY_CHANNEL", "nats")
	t.Setenv("WAHA_API_KEY", "from-env")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.History.RetentionMonths)
	assert.Equal(t, "nats", cfg.Notify.Channel)
	assert.Equal(t, "from-env", cfg.Notify.WhatsApp.APIKey)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err := Load(writeConfig(t, "filter:\n  effective_from: 17/06/2025\n"))
	require.NoError(t, err)
	_, err = cfg.EffectiveFrom()
	assert.Error(t, err)

	cfg, err = Load(writeConfig(t, "profiles:\n  bad:\n    consumption_kwh: lots\n"))
	require.NoError(t, err)
	_, err = cfg.UsageProfiles()
	assert.Error(t, err)
}
