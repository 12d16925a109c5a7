// Package model defines the core data structures for the smsledger engine.
package model

// Field names a transaction attribute that can be supported by message text.
type Field string

// Field constants. The set is closed; FieldTokenMap has one slot per field.
const (
	FieldAmount   Field = "amount"
	FieldCurrency Field = "currency"
	FieldVendor   Field = "vendor"
	FieldAccount  Field = "account"
	FieldDate     Field = "date"
	FieldType     Field = "type"
	FieldTitle    Field = "title"
)

// AllFields lists every field in slot order.
var AllFields = []Field{
	FieldAmount,
	FieldCurrency,
	FieldVendor,
	FieldAccount,
	FieldDate,
	FieldType,
	FieldTitle,
}

// PositionedToken is a literal span of a message together with its
// surrounding tokens. Token is always message[Position:Position+len(Token)].
type PositionedToken struct {
	Token         string   `json:"token"`
	ContextBefore []string `json:"contextBefore,omitempty"`
	ContextAfter  []string `json:"contextAfter,omitempty"`
	Position      int      `json:"position"`
}

// End returns the byte offset just past the token.
func (t PositionedToken) End() int {
	return t.Position + len(t.Token)
}

// Valid reports whether the token is a literal substring of message at Position.
func (t PositionedToken) Valid(message string) bool {
	if t.Token == "" || t.Position < 0 || t.End() > len(message) {
		return false
	}
	return message[t.Position:t.End()] == t.Token
}

// FieldTokenMap maps each transaction field to the spans that justify it.
type FieldTokenMap struct {
	Amount   []PositionedToken `json:"amount,omitempty"`
	Currency []PositionedToken `json:"currency,omitempty"`
	Vendor   []PositionedToken `json:"vendor,omitempty"`
	Account  []PositionedToken `json:"account,omitempty"`
	Date     []PositionedToken `json:"date,omitempty"`
	Type     []PositionedToken `json:"type,omitempty"`
	Title    []PositionedToken `json:"title,omitempty"`
}

// Slot returns the tokens stored for field.
func (m *FieldTokenMap) Slot(field Field) []PositionedToken {
	switch field {
	case FieldAmount:
		return m.Amount
	case FieldCurrency:
		return m.Currency
	case FieldVendor:
		return m.Vendor
	case FieldAccount:
		return m.Account
	case FieldDate:
		return m.Date
	case FieldType:
		return m.Type
	case FieldTitle:
		return m.Title
	}
	return nil
}

// SetSlot replaces the tokens stored for field.
func (m *FieldTokenMap) SetSlot(field Field, tokens []PositionedToken) {
	switch field {
	case FieldAmount:
		m.Amount = tokens
	case FieldCurrency:
		m.Currency = tokens
	case FieldVendor:
		m.Vendor = tokens
	case FieldAccount:
		m.Account = tokens
	case FieldDate:
		m.Date = tokens
	case FieldType:
		m.Type = tokens
	case FieldTitle:
		m.Title = tokens
	}
}

// Fields returns the fields that have at least one token, in slot order.
func (m *FieldTokenMap) Fields() []Field {
	var fields []Field
	for _, f := range AllFields {
		if len(m.Slot(f)) > 0 {
			fields = append(fields, f)
		}
	}
	return fields
}

// TokenCount returns the total number of tokens across all slots.
func (m *FieldTokenMap) TokenCount() int {
	n := 0
	for _, f := range AllFields {
		n += len(m.Slot(f))
	}
	return n
}

// IsEmpty reports whether no slot holds a token.
func (m *FieldTokenMap) IsEmpty() bool {
	return m.TokenCount() == 0
}

// Valid reports whether every token is a literal span of message.
func (m *FieldTokenMap) Valid(message string) bool {
	for _, f := range AllFields {
		for _, tok := range m.Slot(f) {
			if !tok.Valid(message) {
				return false
			}
		}
	}
	return true
}
