package service

import (
	"context"
	"sort"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"
)

// ReportStore is the read surface for earnings reports.
type ReportStore interface {
	GetDeliveredOrdersBetween(ctx context.Context, start, end time.Time) ([]models.Order, error)
	GetItemsForOrders(ctx context.Context, orderIDs []string) ([]models.OrderItem, error)
}

// ReportService derives read-only aggregates from the order history.
// Pure view transform: no mutation, idempotent.
type ReportService struct {
	store ReportStore
}

// NewReportService creates a new report service
func NewReportService(store ReportStore) *ReportService {
	return &ReportService{store: store}
}

// ItemAggregate is the per-item earnings rollup
type ItemAggregate struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Revenue  int64  `json:"revenue"`
}

// DayAggregate is the per-day earnings rollup
type DayAggregate struct {
	Date    string `json:"date"` // YYYY-MM-DD
	Orders  int    `json:"orders"`
	Revenue int64  `json:"revenue"`
}

// EarningsReport is the admin earnings view over a date range
type EarningsReport struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	TotalOrders  int             `json:"total_orders"`
	TotalRevenue int64           `json:"total_revenue"`
	Items        []ItemAggregate `json:"items"`
	Days         []DayAggregate  `json:"days"`
}

// Earnings aggregates delivered orders whose delivered_at falls within
// [start, end] inclusive; end is treated as end-of-day of its calendar
// date.
func (rs *ReportService) Earnings(ctx context.Context, start, end time.Time) (*EarningsReport, error) {
	endOfDay := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 999000000, end.Location())

	orders, err := rs.store.GetDeliveredOrdersBetween(ctx, start, endOfDay)
	if err != nil {
		return nil, &errs.BackendError{Op: "load delivered orders", Err: err}
	}

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := rs.store.GetItemsForOrders(ctx, ids)
	if err != nil {
		return nil, &errs.BackendError{Op: "load order items", Err: err}
	}

	report := BuildEarningsReport(orders, items)
	report.Start = start
	report.End = endOfDay
	return report, nil
}

// BuildEarningsReport computes the aggregates from already-filtered
// delivered orders and their items.
func BuildEarningsReport(orders []models.Order, items []models.OrderItem) *EarningsReport {
	report := &EarningsReport{
		TotalOrders: len(orders),
		Items:       []ItemAggregate{},
		Days:        []DayAggregate{},
	}

	byDay := make(map[string]*DayAggregate)
	for _, order := range orders {
		report.TotalRevenue += order.TotalAmount

		day := order.CreatedAt.Format("2006-01-02")
		if order.DeliveredAt != nil {
			day = order.DeliveredAt.Format("2006-01-02")
		}
		agg, ok := byDay[day]
		if !ok {
			agg = &DayAggregate{Date: day}
			byDay[day] = agg
		}
		agg.Orders++
		agg.Revenue += order.TotalAmount
	}

	byItem := make(map[string]*ItemAggregate)
	for _, item := range items {
		agg, ok := byItem[item.Name]
		if !ok {
			agg = &ItemAggregate{Name: item.Name}
			byItem[item.Name] = agg
		}
		agg.Quantity += item.Quantity
		agg.Revenue += item.UnitPrice * int64(item.Quantity)
	}

	for _, agg := range byItem {
		report.Items = append(report.Items, *agg)
	}
	sort.Slice(report.Items, func(i, j int) bool {
		if report.Items[i].Revenue != report.Items[j].Revenue {
			return report.Items[i].Revenue > report.Items[j].Revenue
		}
		return report.Items[i].Name < report.Items[j].Name
	})

	for _, agg := range byDay {
		report.Days = append(report.Days, *agg)
	}
	sort.Slice(report.Days, func(i, j int) bool {
		return report.Days[i].Date > report.Days[j].Date
	})

	return report
}
