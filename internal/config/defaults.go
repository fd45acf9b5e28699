package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Signal: SignalConfig{
			Executable:            "signal-cli",
			TimeoutSeconds:        60,
			ReceiveTimeoutSeconds: 5,
		},
		Receipt: ReceiptConfig{
			MaxAttempts:     10,
			PollIntervalMs:  1000,
			DeadlineSeconds: 120,
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.signalgate/history.db",
		},
		Relay: RelayConfig{
			Enabled:         true,
			IntervalSeconds: 10,
		},
		Telegram: TelegramConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}
