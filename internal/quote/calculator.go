package quote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	serviceStandard = "Standard"
	serviceExpress  = "Express"

	dateLayout = "Jan 2 (Mon)"
)

const (
	adviceStandard = "Standard mail is not delivered on weekends or public holidays, so allow extra days if the route spans one."
	adviceExpress  = "Your parcel travels on the priority express route."
	adviceCutoff   = "Items posted in the evening or after the counter closes are accepted the next day."
)

// Option is one priced service for a shipment.
type Option struct {
	Service  string
	Price    int
	LeadDays int
	Arrival  time.Time
}

// Quote is the deterministic estimate for a shipment. It is derived on
// demand and never stored.
type Quote struct {
	Origin      string
	Destination string
	Class       int
	Bucket      Bucket
	Dispatch    time.Time
	Cheapest    Option
	Fastest     Option
	Selected    Option
	Addon       Addon
	Advice      []string
}

// Route renders "origin → destination".
func (q *Quote) Route() string {
	return q.Origin + " → " + q.Destination
}

// Calculator prices shipments from a Table.
type Calculator struct {
	table   *Table
	loc     *time.Location
	printer *message.Printer
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithLocation sets the time zone used to decide what "today" is.
func WithLocation(loc *time.Location) CalculatorOption {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func NewCalculator(table *Table, opts ...CalculatorOption) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	c := &Calculator{
		table:   table,
		loc:     time.Local,
		printer: message.NewPrinter(language.English),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Table returns the tariff in use.
func (c *Calculator) Table() *Table {
	return c.table
}

func (c *Calculator) Name() string {
	return "table"
}

// Estimate computes lead times and prices for s as of now.
func (c *Calculator) Estimate(s Shipment, now time.Time) (*Quote, error) {
	bucket, err := c.table.BucketFor(s.Size)
	if err != nil {
		return nil, err
	}

	local := now.In(c.loc)
	dispatch := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	if !s.DispatchToday {
		dispatch = dispatch.AddDate(0, 0, 1)
	}

	class := c.table.Class(s.Origin, s.Destination)
	addon := c.table.Addon(s.Addon)

	standardDays := 2 + class
	expressDays := 2
	if class <= 1 {
		expressDays = 1
	}

	q := &Quote{
		Origin:      c.table.Region(s.Origin),
		Destination: c.table.Region(s.Destination),
		Class:       class,
		Bucket:      bucket,
		Dispatch:    dispatch,
		Cheapest: Option{
			Service:  serviceStandard,
			Price:    bucket.Standard + addon.Fee,
			LeadDays: standardDays,
			Arrival:  dispatch.AddDate(0, 0, standardDays),
		},
		Fastest: Option{
			Service:  serviceExpress,
			Price:    bucket.Express + addon.Fee,
			LeadDays: expressDays,
			Arrival:  dispatch.AddDate(0, 0, expressDays),
		},
		Addon: addon,
	}

	if s.Expedited {
		q.Selected = q.Fastest
		q.Advice = append(q.Advice, adviceExpress)
	} else {
		q.Selected = q.Cheapest
		q.Advice = append(q.Advice, adviceStandard)
	}
	q.Advice = append(q.Advice, adviceCutoff)

	return q, nil
}

// Quote implements Strategy.
func (c *Calculator) Quote(ctx context.Context, req Request) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := c.Estimate(req.Shipment, req.Now)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Text: c.Format(req.Shipment, q),
		Card: c.Card(q),
	}, nil
}

// Card builds the structured recommendation for q.
func (c *Calculator) Card(q *Quote) *Card {
	return &Card{
		Title:    q.Route(),
		Cheapest: c.cardOption(q.Cheapest),
		Fastest:  c.cardOption(q.Fastest),
		Advice:   strings.Join(q.Advice, " "),
	}
}

// Format renders q as a plain-text reply.
func (c *Calculator) Format(s Shipment, q *Quote) string {
	var b strings.Builder
	b.WriteString("Shipping estimate\n")
	fmt.Fprintf(&b, "Route: %s\n", q.Route())
	fmt.Fprintf(&b, "Item: %s, %dcm", c.table.KindLabel(s.Kind), s.Size)
	if w := strings.TrimSpace(s.Weight); w != "" {
		fmt.Fprintf(&b, ", %s", w)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Earliest arrival: %s (%s, %s)\n",
		q.Selected.Arrival.Format(dateLayout), q.Selected.Service, c.Price(q.Selected.Price))
	fmt.Fprintf(&b, "Cheapest: %s %s, arrives %s\n",
		q.Cheapest.Service, c.Price(q.Cheapest.Price), q.Cheapest.Arrival.Format(dateLayout))
	fmt.Fprintf(&b, "Fastest: %s %s, arrives %s\n",
		q.Fastest.Service, c.Price(q.Fastest.Price), q.Fastest.Arrival.Format(dateLayout))
	if q.Addon.Fee > 0 {
		fmt.Fprintf(&b, "Add-on: %s (+%s)\n", q.Addon.Label, c.Price(q.Addon.Fee))
	}
	b.WriteString("\n")
	for _, note := range q.Advice {
		fmt.Fprintf(&b, "Note: %s\n", note)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Price formats yen with thousands separators.
func (c *Calculator) Price(yen int) string {
	return c.printer.Sprintf("¥%d", yen)
}

func (c *Calculator) cardOption(o Option) CardOption {
	return CardOption{
		Name:  o.Service,
		Price: c.Price(o.Price),
		Date:  o.Arrival.Format(dateLayout),
	}
}
