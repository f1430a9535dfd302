package advboxsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Identifier keys in lookup order.
var idKeys = []string{"id", "identification", "transaction_id"}

// dateLayouts are the timestamp shapes seen in ADVBox payloads. Only the
// date portion is kept.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"02/01/2006",
}

var paidStatuses = map[string]bool{
	"paid":      true,
	"pago":      true,
	"paga":      true,
	"liquidado": true,
	"received":  true,
	"recebido":  true,
	"settled":   true,
}

// Transaction is an ADVBox record that passed shape validation.
type Transaction struct {
	ExternalID string
	// Amount is signed: negative for money out.
	Amount    decimal.Decimal
	DueDate   civil.Date
	PaidDate  civil.Date
	Paid      bool
	Category  string
	Customer  string
	CaseTitle string
	Notes     string
}

// ParseTransaction validates one raw record. It returns ErrNoExternalID
// when no identifier can be resolved and *RecordError for any other shape
// problem.
func ParseTransaction(raw json.RawMessage) (Transaction, error) {
	var tx Transaction

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return tx, &RecordError{Reason: "not a JSON object"}
	}

	for _, key := range idKeys {
		if id, ok := scalarString(obj[key]); ok && id != "" && id != "0" {
			tx.ExternalID = id
			break
		}
	}
	if tx.ExternalID == "" {
		return tx, ErrNoExternalID
	}

	amount, err := parseAmount(obj)
	if err != nil {
		return tx, err
	}
	tx.Amount = amount

	if tx.DueDate, err = parseDateField(obj, "date_due", "due_date"); err != nil {
		return tx, err
	}
	if tx.PaidDate, err = parseDateField(obj, "date_payment", "payment_date", "paid_at"); err != nil {
		return tx, err
	}

	tx.Paid = parsePaid(obj, !tx.PaidDate.IsZero())
	tx.Category = firstString(obj, "category", "category.name", "category_name")
	tx.Customer = firstString(obj, "customer_name", "customer.name", "name")
	tx.CaseTitle = firstString(obj, "lawsuit.title", "lawsuit.process_number", "lawsuit_title", "process_number")
	tx.Notes = firstString(obj, "notes", "description", "observation")

	return tx, nil
}

func parseAmount(obj map[string]interface{}) (decimal.Decimal, error) {
	for _, key := range []string{"amount", "value"} {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			d, err := decimal.NewFromString(t.String())
			if err != nil {
				return decimal.Zero, &RecordError{Field: key, Reason: fmt.Sprintf("bad number %q", t.String())}
			}
			return d, nil
		case string:
			d, err := parseAmountString(t)
			if err != nil {
				return decimal.Zero, &RecordError{Field: key, Reason: err.Error()}
			}
			return d, nil
		default:
			return decimal.Zero, &RecordError{Field: key, Reason: fmt.Sprintf("unexpected type %T", v)}
		}
	}
	return decimal.Zero, &RecordError{Field: "amount", Reason: "missing"}
}

// parseAmountString accepts "1234.56", "-1234,56", "R$ 1.234,56" and
// "-2,500.00". The last of "," or "." is the decimal separator; a single
// separator kind repeated is read as thousands grouping.
func parseAmountString(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	s = strings.TrimPrefix(s, "R$")
	if sign == "" && strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	num, err := normalizeSeparators(s)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(sign + num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad amount %q", s)
	}
	return d, nil
}

func normalizeSeparators(s string) (string, error) {
	lastComma, lastDot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')
	if lastComma < 0 && lastDot < 0 {
		return s, nil
	}

	dec, group := byte('.'), byte(',')
	if lastComma > lastDot {
		dec, group = ',', '.'
	}
	if strings.IndexByte(s, group) < 0 && strings.Count(s, string(dec)) > 1 {
		dec, group = 0, dec
	}

	intPart, frac := s, ""
	if dec != 0 {
		i := strings.LastIndexByte(s, dec)
		intPart, frac = s[:i], s[i+1:]
		if frac == "" || strings.IndexByte(intPart, dec) >= 0 {
			return "", fmt.Errorf("ambiguous amount %q", s)
		}
	}

	if strings.IndexByte(intPart, group) >= 0 {
		groups := strings.Split(intPart, string(group))
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return "", fmt.Errorf("ambiguous amount %q", s)
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", fmt.Errorf("ambiguous amount %q", s)
			}
		}
		intPart = strings.Join(groups, "")
	}

	if frac == "" {
		return intPart, nil
	}
	return intPart + "." + frac, nil
}

func parseDateField(obj map[string]interface{}, keys ...string) (civil.Date, error) {
	for _, key := range keys {
		s, ok := scalarString(lookup(obj, key))
		if !ok || s == "" {
			continue
		}
		d, err := parseDate(s)
		if err != nil {
			return civil.Date{}, &RecordError{Field: key, Reason: err.Error()}
		}
		return d, nil
	}
	return civil.Date{}, nil
}

func parseDate(s string) (civil.Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("unrecognised date %q", s)
}

func parsePaid(obj map[string]interface{}, hasPaidDate bool) bool {
	switch v := obj["paid"].(type) {
	case bool:
		return v
	case json.Number:
		return v.String() == "1"
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	if s, ok := obj["status"].(string); ok && s != "" {
		return paidStatuses[strings.ToLower(strings.TrimSpace(s))]
	}
	return hasPaidDate
}

// lookup resolves a dotted path through nested objects.
func lookup(obj map[string]interface{}, path string) interface{} {
	var cur interface{} = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func firstString(obj map[string]interface{}, paths ...string) string {
	for _, p := range paths {
		if s, ok := scalarString(lookup(obj, p)); ok && s != "" {
			return s
		}
	}
	return ""
}

// scalarString renders strings and numbers; anything else is rejected.
func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
