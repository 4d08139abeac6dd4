package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != 8080 {
		t.Fatalf("порт по умолчанию неверен: %d", cfg.Port)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("адрес метрик по умолчанию неверен: %q", cfg.MetricsAddr)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Fatalf("лимит попыток по умолчанию неверен: %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadMetricsAddrOverride(t *testing.T) {
	t.Setenv("METRICS_ADDR", ":9191")
	cfg := Load()
	if cfg.MetricsAddr != ":9191" {
		t.Fatalf("переопределение адреса метрик не применено: %q", cfg.MetricsAddr)
	}
}
