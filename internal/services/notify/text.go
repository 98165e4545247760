package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ivankudzin/storefront/internal/domain/enums"
)

var bodyTemplate = template.Must(template.New("body").Parse(`Hello,

{{.Lead}}

Order: {{.OrderID}}
Item: {{.Item}}
Amount: {{.Amount}}
{{- if .AccessURL}}
Access: {{.AccessURL}}
{{- end}}
{{- if .Reason}}
Reason: {{.Reason}}
{{- end}}
`))

func renderBody(msg Message) (string, error) {
	lead := "Your payment could not be verified. No access was granted; if money left your account it will be returned by the payment provider."
	switch msg.Outcome {
	case enums.OutcomeSucceeded:
		lead = "Thank you for your purchase. Your access is ready."
	case enums.OutcomePending:
		lead = "Your payment is recorded and fulfillment is pending. It will resolve automatically; no action is needed."
	}

	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, map[string]string{
		"Lead":      lead,
		"OrderID":   msg.OrderID,
		"Item":      msg.Item.String(),
		"Amount":    formatAmount(msg.Amount, msg.Currency),
		"AccessURL": msg.AccessURL,
		"Reason":    msg.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("render notification body: %w", err)
	}
	return buf.String(), nil
}

// formatAmount renders minor units with two decimals.
func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
