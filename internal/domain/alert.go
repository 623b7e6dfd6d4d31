package domain

// Alert is an operator-facing notification. Senders render the severity,
// body, and field lines into their channel's own format.
type Alert struct {
	Event    string
	Title    string
	Body     string
	Severity EventSeverity
	Fields   []AlertField
}

// AlertField is one labelled detail line on an alert.
type AlertField struct {
	Key   string
	Value string
}

// NewAlert builds an alert for the given event type.
func NewAlert(event, title, body string, severity EventSeverity) Alert {
	return Alert{Event: event, Title: title, Body: body, Severity: severity}
}

// WithField appends a detail line and returns the alert for chaining.
func (a Alert) WithField(key, value string) Alert {
	a.Fields = append(a.Fields, AlertField{Key: key, Value: value})
	return a
}
