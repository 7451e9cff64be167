// Package analytics keeps per-day sales counters in Redis, fed by the report
// task the outbox enqueues for every finalized sale.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/queue"
	"github.com/noah-isme/toko-pos/internal/sale"
)

// DateLayout is the report day format.
const DateLayout = "2006-01-02"

const (
	fieldCount    = "count"
	fieldRevenue  = "revenue_cents"
	fieldDiscount = "discount_cents"
	fieldBonus    = "bonus_units"
)

// Service aggregates sale summaries into daily counters.
type Service struct {
	R        *redis.Client
	TTL      time.Duration
	Location *time.Location
	Now      func() time.Time
}

// TopProduct is a product ranked by quantity sold on a day.
type TopProduct struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// DailyReport is the aggregate of every sale recorded for one day.
type DailyReport struct {
	Date            string                     `json:"date"`
	Sales           int64                      `json:"sales"`
	Revenue         decimal.Decimal            `json:"revenue"`
	Discount        decimal.Decimal            `json:"discount"`
	BonusUnits      decimal.Decimal            `json:"bonusUnits"`
	ByPaymentMethod map[string]decimal.Decimal `json:"byPaymentMethod"`
	ByOrigin        map[string]int64           `json:"byOrigin"`
	TopProducts     []TopProduct               `json:"topProducts"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s *Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 90 * 24 * time.Hour
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// Record adds a sale to its day. It reports false when the sale was already
// counted, so redelivered tasks are harmless.
func (s *Service) Record(ctx context.Context, sum sale.Summary) (bool, error) {
	if s == nil || s.R == nil {
		return false, errors.New("analytics service not configured")
	}
	if strings.TrimSpace(sum.SaleID) == "" {
		return false, errors.New("analytics: sale id is required")
	}
	at := sum.CreatedAt
	if at.IsZero() {
		at = s.now()
	}
	day := at.In(s.location()).Format(DateLayout)
	seenKey := cacheKey("an", "seen", sum.SaleID)
	fresh, err := s.R.SetNX(ctx, seenKey, day, s.ttl()).Result()
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	dailyKey := cacheKey("an", "daily", day)
	topKey := cacheKey("an", "top", day)
	namesKey := cacheKey("an", "names")
	_, err = s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, dailyKey, fieldCount, 1)
		pipe.HIncrBy(ctx, dailyKey, fieldRevenue, cents(sum.Total))
		pipe.HIncrBy(ctx, dailyKey, fieldDiscount, cents(sum.TotalDiscount))
		pipe.HIncrBy(ctx, dailyKey, cacheKey("method", sum.PaymentMethod), cents(sum.Total))
		pipe.HIncrBy(ctx, dailyKey, cacheKey("origin", sum.Origin), 1)
		if sum.BonusUnits.IsPositive() {
			pipe.HIncrByFloat(ctx, dailyKey, fieldBonus, sum.BonusUnits.InexactFloat64())
		}
		for _, item := range sum.Items {
			pipe.ZIncrBy(ctx, topKey, item.Quantity.InexactFloat64(), item.ProductID)
			if item.ProductName != "" {
				pipe.HSet(ctx, namesKey, item.ProductID, item.ProductName)
			}
		}
		pipe.Expire(ctx, dailyKey, s.ttl())
		pipe.Expire(ctx, topKey, s.ttl())
		return nil
	})
	if err != nil {
		_ = s.R.Del(context.Background(), seenKey).Err()
		return false, fmt.Errorf("analytics: record %s: %w", sum.SaleID, err)
	}
	return true, nil
}

// Daily returns the report for the day of date, with up to top products.
func (s *Service) Daily(ctx context.Context, date time.Time, top int) (DailyReport, error) {
	if s == nil || s.R == nil {
		return DailyReport{}, errors.New("analytics service not configured")
	}
	if top <= 0 {
		top = 10
	}
	day := date.In(s.location()).Format(DateLayout)
	report := DailyReport{
		Date:            day,
		ByPaymentMethod: map[string]decimal.Decimal{},
		ByOrigin:        map[string]int64{},
		TopProducts:     []TopProduct{},
	}
	fields, err := s.R.HGetAll(ctx, cacheKey("an", "daily", day)).Result()
	if err != nil {
		return DailyReport{}, err
	}
	for field, raw := range fields {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		switch {
		case field == fieldCount:
			report.Sales = value.IntPart()
		case field == fieldRevenue:
			report.Revenue = value.Shift(-2)
		case field == fieldDiscount:
			report.Discount = value.Shift(-2)
		case field == fieldBonus:
			report.BonusUnits = value.Round(3)
		case strings.HasPrefix(field, "method:"):
			report.ByPaymentMethod[strings.TrimPrefix(field, "method:")] = value.Shift(-2)
		case strings.HasPrefix(field, "origin:"):
			report.ByOrigin[strings.TrimPrefix(field, "origin:")] = value.IntPart()
		}
	}

	ranked, err := s.R.ZRevRangeWithScores(ctx, cacheKey("an", "top", day), 0, int64(top-1)).Result()
	if err != nil {
		return DailyReport{}, err
	}
	if len(ranked) == 0 {
		return report, nil
	}
	ids := make([]string, 0, len(ranked))
	for _, z := range ranked {
		id, _ := z.Member.(string)
		ids = append(ids, id)
	}
	names, err := s.R.HMGet(ctx, cacheKey("an", "names"), ids...).Result()
	if err != nil {
		return DailyReport{}, err
	}
	for i, z := range ranked {
		item := TopProduct{ProductID: ids[i], Quantity: decimal.NewFromFloat(z.Score).Round(3)}
		if name, ok := names[i].(string); ok {
			item.ProductName = name
		}
		report.TopProducts = append(report.TopProducts, item)
	}
	sort.SliceStable(report.TopProducts, func(i, j int) bool {
		a, b := report.TopProducts[i], report.TopProducts[j]
		if !a.Quantity.Equal(b.Quantity) {
			return a.Quantity.GreaterThan(b.Quantity)
		}
		return a.ProductID < b.ProductID
	})
	return report, nil
}

// HandleTask consumes queue.KindSaleReport tasks. Malformed payloads are
// archived without retry.
func (s *Service) HandleTask(ctx context.Context, task queue.Task) error {
	var sum sale.Summary
	if err := json.Unmarshal(task.Payload, &sum); err != nil {
		return fmt.Errorf("analytics: decode summary: %v: %w", err, asynq.SkipRetry)
	}
	_, err := s.Record(ctx, sum)
	return err
}
