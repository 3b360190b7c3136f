package receipt

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
)

// Data carries everything the receipt templates need.
type Data struct {
	StudentName   string
	ReceiptNumber string
	TransactionID int64
	Amount        decimal.Decimal
	PaymentRef    string
	PaidAt        time.Time
	SchoolName    string
}

func (d Data) AmountDisplay() string {
	return d.Amount.StringFixed(2)
}

func (d Data) PaidAtDisplay() string {
	return d.PaidAt.Format("02 Jan 2006 15:04")
}

const textReceipt = `Dear {{.StudentName}},

We have received your fee payment. Thank you.

Receipt number : {{.ReceiptNumber}}
Transaction    : {{.TransactionID}}
Amount paid    : {{.AmountDisplay}}
Payment ref    : {{.PaymentRef}}
Paid at        : {{.PaidAtDisplay}}

Keep this receipt for your records.

{{.SchoolName}}
`

const htmlReceipt = `<html>
<body style="font-family: sans-serif; color: #222;">
  <p>Dear {{.StudentName}},</p>
  <p>We have received your fee payment. Thank you.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><strong>Receipt number</strong></td><td>{{.ReceiptNumber}}</td></tr>
    <tr><td><strong>Transaction</strong></td><td>{{.TransactionID}}</td></tr>
    <tr><td><strong>Amount paid</strong></td><td>{{.AmountDisplay}}</td></tr>
    <tr><td><strong>Payment ref</strong></td><td>{{.PaymentRef}}</td></tr>
    <tr><td><strong>Paid at</strong></td><td>{{.PaidAtDisplay}}</td></tr>
  </table>
  <p>Keep this receipt for your records.</p>
  <p>{{.SchoolName}}</p>
</body>
</html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("receipt_text").Parse(textReceipt))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("receipt_html").Parse(htmlReceipt))
)

// Render produces the plain-text and HTML bodies for a receipt email.
func Render(data Data) (text string, html string, err error) {
	var tbuf, hbuf bytes.Buffer
	if err := textTmpl.Execute(&tbuf, data); err != nil {
		return "", "", fmt.Errorf("render text receipt: %w", err)
	}
	if err := htmlTmpl.Execute(&hbuf, data); err != nil {
		return "", "", fmt.Errorf("render html receipt: %w", err)
	}
	return tbuf.String(), hbuf.String(), nil
}
