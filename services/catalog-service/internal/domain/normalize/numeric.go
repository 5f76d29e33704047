// Package normalize приводит числовые и текстовые поля фида к каноническому виду.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// ErrInvalidNumber строка не является числом ни в одном из допустимых форматов
var ErrInvalidNumber = errors.New("invalid number")

var (
	integerPattern    = regexp.MustCompile(`^-?\d+$`)
	dotDecimalPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
	commaDecPattern   = regexp.MustCompile(`^-?\d+,\d+$`)
)

// ParseNumeric разбирает целое, десятичное с точкой или десятичное с запятой.
// Разделители тысяч, символы валют и прочее отклоняются.
func ParseNumeric(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)

	switch {
	case integerPattern.MatchString(s), dotDecimalPattern.MatchString(s):
	case commaDecPattern.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return d, nil
}

// Quantity количество на складе: дробная часть отбрасывается, отрицательные значения дают 0
func Quantity(d decimal.Decimal) int {
	if d.IsNegative() {
		return 0
	}
	return int(d.IntPart())
}

// FoldName обрезает пробелы, схлопывает внутренние и приводит регистр через Unicode case folding.
// Caser хранит состояние, поэтому создается на каждый вызов.
func FoldName(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// FlexNumber число из JSON, которое может прийти и числом, и строкой
type FlexNumber struct {
	Value decimal.Decimal
	Set   bool
}

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = FlexNumber{}
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			*n = FlexNumber{}
			return nil
		}
	}

	d, err := ParseNumeric(raw)
	if err != nil {
		// JSON-число в экспоненциальной форме
		if data[0] != '"' {
			if d2, err2 := decimal.NewFromString(raw); err2 == nil {
				*n = FlexNumber{Value: d2, Set: true}
				return nil
			}
		}
		return err
	}

	*n = FlexNumber{Value: d, Set: true}
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return []byte(n.Value.String()), nil
}
