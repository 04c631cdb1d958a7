package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrRateUnavailable возвращается, если провайдер не вернул курс для запрошенной пары.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// DefaultTTL — время жизни закэшированной таблицы курсов.
const DefaultTTL = 5 * time.Minute

// Тикеры стейблкоинов транслируются в канонические идентификаторы провайдера.
var assetAliases = map[string]string{
	"usdt": "tether",
	"usdc": "usd-coin",
	"busd": "binance-usd",
}

// Provider описывает контракт источника курсов, используемый кэшем.
type Provider interface {
	GetRates(ctx context.Context, assets, currencies []string) (map[string]map[string]float64, error)
}

// Cache — разделяемый между запросами кэш курсов с ограниченным временем жизни.
// При промахе у провайдера запрашивается пара, а сохраняется вся возвращённая
// таблица целиком; записи не инвалидируются, только истекают.
type Cache struct {
	provider Provider
	ttl      time.Duration

	mu      sync.RWMutex
	table   map[string]map[string]float64
	expires time.Time

	sf singleflight.Group
}

// NewCache создаёт кэш курсов поверх указанного провайдера.
func NewCache(provider Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
	}
}

// GetRate возвращает курс актива к валюте, обращаясь к провайдеру только при
// промахе кэша. Конкурентные промахи по одной паре схлопываются в один запрос.
func (c *Cache) GetRate(ctx context.Context, asset, currency string) (float64, error) {
	asset = canonicalAsset(asset)
	currency = strings.ToLower(currency)

	if rate, ok := c.lookup(asset, currency); ok {
		return rate, nil
	}

	v, err, _ := c.sf.Do(asset+"/"+currency, func() (any, error) {
		// Пока мы ждали своей очереди, пару мог положить в кэш другой запрос.
		if rate, ok := c.lookup(asset, currency); ok {
			return rate, nil
		}

		table, err := c.provider.GetRates(ctx, []string{asset}, []string{currency})
		if err != nil {
			return float64(0), fmt.Errorf("%w: %s/%s: %s", ErrRateUnavailable, asset, currency, err)
		}

		rate, ok := table[asset][currency]
		if !ok {
			return float64(0), fmt.Errorf("%w: %s/%s", ErrRateUnavailable, asset, currency)
		}

		c.store(table)
		return rate, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(float64), nil
}

func (c *Cache) lookup(asset, currency string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.table == nil || time.Now().After(c.expires) {
		return 0, false
	}
	rate, ok := c.table[asset][currency]
	return rate, ok
}

// store замещает таблицу целиком; при гонке побеждает последняя запись.
func (c *Cache) store(table map[string]map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.table = table
	c.expires = time.Now().Add(c.ttl)
}

func canonicalAsset(asset string) string {
	asset = strings.ToLower(asset)
	if canonical, ok := assetAliases[asset]; ok {
		return canonical
	}
	return asset
}
