package receipt

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"go.uber.org/fx"
)

type Customer struct {
	Name  string
	Email string
}

type PaymentDetails struct {
	PlanName      string
	AmountCents   int64
	Currency      string
	Provider      string
	TransactionID string
	PaidAt        time.Time
}

// Generator renders a payment receipt PDF. Consumed best-effort after a
// successful reconciliation.
type Generator interface {
	Generate(customer Customer, details PaymentDetails) ([]byte, error)
}

type pdfGenerator struct{}

func NewGenerator() Generator {
	return &pdfGenerator{}
}

func (g *pdfGenerator) Generate(customer Customer, details PaymentDetails) ([]byte, error) {
	m := maroto.New(config.NewBuilder().
		WithLeftMargin(15).
		WithRightMargin(15).
		WithTopMargin(15).
		Build())

	m.AddRow(12, text.NewCol(12, "Payment Receipt", props.Text{
		Size:  16,
		Style: fontstyle.Bold,
		Align: align.Center,
	}))
	m.AddRow(4, line.NewCol(12))

	m.AddRows(
		labelled("Customer", customer.Name),
		labelled("Email", customer.Email),
		labelled("Plan", details.PlanName),
		labelled("Amount", formatAmount(details.AmountCents, details.Currency)),
		labelled("Provider", details.Provider),
		labelled("Transaction", details.TransactionID),
		labelled("Date", details.PaidAt.Format("2006-01-02 15:04 MST")),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func labelled(label, value string) core.Row {
	return row.New(8).Add(
		text.NewCol(3, label, props.Text{Style: fontstyle.Bold, Size: 10}),
		col.New(9).Add(text.New(value, props.Text{Size: 10})),
	)
}

func formatAmount(cents int64, currency string) string {
	switch currency {
	case "CLP", "JPY", "KRW":
		return fmt.Sprintf("%d %s", cents, currency)
	default:
		return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
	}
}

var Module = fx.Module("receipt",
	fx.Provide(NewGenerator),
)
