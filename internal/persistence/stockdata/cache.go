package stockdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"stock-ingest/pkg/marketdata"
)

// Namespace prefixes every Redis key written by the store.
const Namespace = "stockingest"

const defaultCacheTTL = 24 * time.Hour

// LatestPrice is the cached view of the newest stored price for a symbol.
type LatestPrice struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Date      string `json:"date"`
	UpdatedAt int64  `json:"updated_at"`
}

// LatestPriceKey returns the cache key holding the latest price for symbol.
func LatestPriceKey(symbol string) string {
	return fmt.Sprintf("%s:price:latest:%s", Namespace, normalizeSymbol(symbol))
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// LatestPrice reads the cached latest price. ok is false when nothing is cached
// or no cache is configured.
func (s *Store) LatestPrice(ctx context.Context, symbol string) (LatestPrice, bool, error) {
	var entry LatestPrice
	if s.cache == nil {
		return entry, false, nil
	}
	if err := s.cache.GetCtx(ctx, LatestPriceKey(symbol), &entry); err != nil {
		if s.cache.IsNotFound(err) {
			return LatestPrice{}, false, nil
		}
		return LatestPrice{}, false, err
	}
	return entry, true, nil
}

// cacheLatest mirrors the newest committed price per symbol into the cache.
// A cached entry with a later date than the committed one is left in place.
func (s *Store) cacheLatest(ctx context.Context, records []marketdata.StockRecord) {
	if s.cache == nil {
		return
	}
	ttl := s.cacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	for _, rec := range latestBySymbol(records) {
		key := LatestPriceKey(rec.Symbol)
		current, ok, err := s.LatestPrice(ctx, rec.Symbol)
		if err != nil {
			logx.WithContext(ctx).Errorf("stockdata: load cached price key=%s err=%v", key, err)
			continue
		}
		if ok && current.Date > rec.DateString() {
			continue
		}
		entry := LatestPrice{
			Symbol:    normalizeSymbol(rec.Symbol),
			Price:     rec.Price.String(),
			Date:      rec.DateString(),
			UpdatedAt: time.Now().UTC().UnixMilli(),
		}
		if err := s.cache.SetWithExpireCtx(ctx, key, entry, ttl); err != nil {
			logx.WithContext(ctx).Errorf("stockdata: cache price key=%s err=%v", key, err)
		}
	}
}

// latestBySymbol picks, per cache key, the record with the greatest date; on
// equal dates the later record wins, matching upsert order. Symbols are grouped
// the way LatestPriceKey normalises them.
func latestBySymbol(records []marketdata.StockRecord) []marketdata.StockRecord {
	index := make(map[string]int, len(records))
	out := make([]marketdata.StockRecord, 0, len(records))
	for _, rec := range records {
		key := normalizeSymbol(rec.Symbol)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		if !rec.Date.Before(out[i].Date) {
			out[i] = rec
		}
	}
	return out
}
