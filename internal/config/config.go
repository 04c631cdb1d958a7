// Package config содержит логику чтения конфигурации платёжного шлюза.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/binancepay-gateway/internal/states"
)

// Config содержит параметры конфигурации платёжного шлюза BinancePay.
// Структура собирается один раз при старте и дальше передаётся по ссылке —
// никаких скрытых обращений к настройкам по строковому ключу.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	BinancePayURL string `env:"BINANCEPAY_URL"`
	APIKey        string `env:"BINANCEPAY_API_KEY"`
	APISecret     string `env:"BINANCEPAY_API_SECRET"`
	StoreID       string `env:"BINANCEPAY_STORE_ID"`
	RatesAddress  string `env:"RATES_ADDRESS"`

	PublicBaseURL        string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	StableCoin           string `env:"STABLE_COIN" envDefault:"USDT"`
	OrderStates          string `env:"ORDER_STATES"`
	InvoiceInvalidStates string `env:"INVOICE_INVALID_STATES" envDefault:"Expired,Invalid"`
	WebhookReplayNotes   bool   `env:"WEBHOOK_REPLAY_NOTES" envDefault:"false"`

	// Правила отображения курса для человека (аналог настроек цен магазина).
	PriceDecimals    int    `env:"PRICE_DECIMALS" envDefault:"2"`
	PriceDecimalSep  string `env:"PRICE_DECIMAL_SEP" envDefault:"."`
	PriceThousandSep string `env:"PRICE_THOUSAND_SEP" envDefault:","`

	// Производные поля, заполняются в Parse.
	StateTable    states.Table `env:"-"`
	InvalidStates []string     `env:"-"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBinancePayURL := cfg.BinancePayURL
	envAPIKey := cfg.APIKey
	envAPISecret := cfg.APISecret
	envStoreID := cfg.StoreID
	envRatesAddress := cfg.RatesAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BinancePayURL, "b", "https://bpay.binanceapi.com", "BinancePay API base URL")
	flag.StringVar(&cfg.APIKey, "k", "", "BinancePay merchant API key")
	flag.StringVar(&cfg.APISecret, "s", "", "BinancePay merchant API secret")
	flag.StringVar(&cfg.StoreID, "m", "", "BinancePay merchant store id")
	flag.StringVar(&cfg.RatesAddress, "r", "https://api.coingecko.com/api/v3", "exchange rates provider address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBinancePayURL != "" {
		cfg.BinancePayURL = envBinancePayURL
	}
	if envAPIKey != "" {
		cfg.APIKey = envAPIKey
	}
	if envAPISecret != "" {
		cfg.APISecret = envAPISecret
	}
	if envStoreID != "" {
		cfg.StoreID = envStoreID
	}
	if envRatesAddress != "" {
		cfg.RatesAddress = envRatesAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("BinancePay API credentials are not configured")
	}

	tbl, err := parseStateTable(cfg.OrderStates)
	if err != nil {
		return nil, err
	}
	cfg.StateTable = tbl

	for _, s := range strings.Split(cfg.InvoiceInvalidStates, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.InvalidStates = append(cfg.InvalidStates, s)
		}
	}

	return cfg, nil
}

// parseStateTable разбирает таблицу статусов из строки вида
// "SETTLED=completed,EXPIRED=cancelled,...". Пустая строка — таблица по
// умолчанию. Заданная пользователем таблица обязана быть полной: пропущенное
// состояние — ошибка конфигурации, а не повод молча подставить умолчание.
func parseStateTable(raw string) (states.Table, error) {
	if raw == "" {
		return states.DefaultTable(), nil
	}

	known := states.DefaultTable()
	tbl := states.Table{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("order state mapping: invalid entry %q", pair)
		}
		state := states.State(strings.TrimSpace(k))
		if _, exists := known[state]; !exists {
			return nil, fmt.Errorf("order state mapping: unknown state %q", k)
		}
		tbl[state] = strings.TrimSpace(v)
	}

	if err := states.Validate(tbl); err != nil {
		return nil, err
	}

	return tbl, nil
}
