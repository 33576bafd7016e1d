package sales

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/costing"
	"github.com/donasdosas/ledger/internal/shared"
)

// Totals sums a group of sales. COGS is the sum of stored snapshots.
type Totals struct {
	Sales     int             `json:"sales"`
	Quantity  decimal.Decimal `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
	COGS      decimal.Decimal `json:"cogs"`
	Profit    decimal.Decimal `json:"profit"`
	MarginPct shared.Ratio    `json:"margin_pct"`
}

func (t *Totals) add(s Sale) {
	t.Sales++
	t.Quantity = t.Quantity.Add(s.Quantity)
	t.Revenue = t.Revenue.Add(s.Revenue())
	t.COGS = t.COGS.Add(s.COGSTotal)
}

func (t *Totals) price() {
	p := costing.PriceMenuItem(t.Revenue, t.COGS)
	t.Profit = p.Profit
	t.MarginPct = p.MarginPct
}

func newTotals() Totals {
	return Totals{Quantity: decimal.Zero, Revenue: decimal.Zero, COGS: decimal.Zero, Profit: decimal.Zero}
}

// ItemLine is the rollup for one menu item.
type ItemLine struct {
	MenuItemID int64  `json:"menu_item_id"`
	Name       string `json:"name"`
	Totals
}

// DayLine is the rollup for one calendar day.
type DayLine struct {
	Date string `json:"date"`
	Totals
}

// MonthLine is the rollup for one calendar month.
type MonthLine struct {
	Month shared.MonthKey `json:"month"`
	Totals
}

// ChannelLine is the rollup for one channel tag.
type ChannelLine struct {
	Channel string `json:"channel"`
	Totals
}

// MarginReport groups sales by item, day, month and channel.
type MarginReport struct {
	From      shared.MonthKey `json:"from"`
	To        shared.MonthKey `json:"to"`
	Total     Totals          `json:"total"`
	ByItem    []ItemLine      `json:"by_item"`
	ByDay     []DayLine       `json:"by_day"`
	ByMonth   []MonthLine     `json:"by_month"`
	ByChannel []ChannelLine   `json:"by_channel"`
}

// Aggregate rolls up sales. Profit and margin per group follow the menu pricing rules, with the
// margin undefined for groups without revenue.
func Aggregate(sales []Sale) MarginReport {
	report := MarginReport{
		Total:     newTotals(),
		ByItem:    []ItemLine{},
		ByDay:     []DayLine{},
		ByMonth:   []MonthLine{},
		ByChannel: []ChannelLine{},
	}
	items := map[int64]*ItemLine{}
	days := map[string]*DayLine{}
	months := map[shared.MonthKey]*MonthLine{}
	channels := map[string]*ChannelLine{}

	for _, s := range sales {
		report.Total.add(s)

		item, ok := items[s.MenuItemID]
		if !ok {
			item = &ItemLine{MenuItemID: s.MenuItemID, Name: s.MenuItemName, Totals: newTotals()}
			items[s.MenuItemID] = item
		}
		item.add(s)

		day := s.Date.Format(dateLayout)
		dl, ok := days[day]
		if !ok {
			dl = &DayLine{Date: day, Totals: newTotals()}
			days[day] = dl
		}
		dl.add(s)

		key := s.Month()
		ml, ok := months[key]
		if !ok {
			ml = &MonthLine{Month: key, Totals: newTotals()}
			months[key] = ml
		}
		ml.add(s)

		cl, ok := channels[s.Channel]
		if !ok {
			cl = &ChannelLine{Channel: s.Channel, Totals: newTotals()}
			channels[s.Channel] = cl
		}
		cl.add(s)
	}

	report.Total.price()
	for _, v := range items {
		v.price()
		report.ByItem = append(report.ByItem, *v)
	}
	for _, v := range days {
		v.price()
		report.ByDay = append(report.ByDay, *v)
	}
	for _, v := range months {
		v.price()
		report.ByMonth = append(report.ByMonth, *v)
	}
	for _, v := range channels {
		v.price()
		report.ByChannel = append(report.ByChannel, *v)
	}

	sort.Slice(report.ByItem, func(i, j int) bool {
		a, b := report.ByItem[i], report.ByItem[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.MenuItemID < b.MenuItemID
	})
	sort.Slice(report.ByDay, func(i, j int) bool { return report.ByDay[i].Date < report.ByDay[j].Date })
	sort.Slice(report.ByMonth, func(i, j int) bool { return report.ByMonth[i].Month.Before(report.ByMonth[j].Month) })
	sort.Slice(report.ByChannel, func(i, j int) bool { return report.ByChannel[i].Channel < report.ByChannel[j].Channel })
	return report
}
