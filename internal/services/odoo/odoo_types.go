package odoo

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// OdooString handles Odoo's dynamic typing: empty text fields come back as
// `false` instead of "".
type OdooString string

func (s *OdooString) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = OdooString(str)
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = ""
		return nil
	}

	if string(data) == "null" {
		*s = ""
		return nil
	}

	return errors.New("OdooString: cannot unmarshal value into string")
}

func (s OdooString) String() string {
	return string(s)
}

// Many2One is a relational field: [id, "display name"] or false
type Many2One struct {
	ID   int64
	Name string
}

func (m *Many2One) UnmarshalJSON(data []byte) error {
	*m = Many2One{}

	var pair []interface{}
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) > 0 {
			if id, ok := pair[0].(float64); ok {
				m.ID = int64(id)
			}
		}
		if len(pair) > 1 {
			if name, ok := pair[1].(string); ok {
				m.Name = name
			}
		}
		return nil
	}

	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		m.Name = label
		return nil
	}

	// bare id
	var id float64
	if err := json.Unmarshal(data, &id); err == nil {
		m.ID = int64(id)
		return nil
	}

	// false or null
	var b bool
	if err := json.Unmarshal(data, &b); err == nil || string(data) == "null" {
		return nil
	}

	return errors.New("Many2One: unexpected value")
}

// OdooFloat accepts a number or false
type OdooFloat struct {
	Value float64
	Set   bool
}

func (f *OdooFloat) UnmarshalJSON(data []byte) error {
	*f = OdooFloat{}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		f.Value, f.Set = v, true
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil || string(data) == "null" {
		return nil
	}
	return errors.New("OdooFloat: unexpected value")
}

var currencyCode = regexp.MustCompile(`[A-Z]{3}`)

// currencyFromLabel pulls a 3-letter code out of a currency display name
// such as "EUR" or "Euro (EUR)".
func currencyFromLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return ""
	}
	if m := currencyCode.FindString(label); m != "" {
		return m
	}
	return ""
}
