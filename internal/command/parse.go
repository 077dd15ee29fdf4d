package command

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"moneyman/internal/model"
)

// Request is a parsed chat command.
type Request struct {
	ChatID string
	UserID string
	Name   string
	Args   []string
}

var known = map[string]struct{}{
	"start": {}, "help": {}, "ping": {}, "rates": {}, "refresh": {}, "convert": {}, "targets": {},
}

// Parse recognises text that starts with prefix followed by a known command
// name. Telegram's "/cmd@BotName" form is accepted. ok is false for any
// other text, which should then be treated as an ordinary message.
func Parse(text, prefix string) (req Request, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Request{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return Request{}, false
	}

	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if _, ok := known[name]; !ok {
		return Request{}, false
	}
	return Request{Name: name, Args: fields[1:]}, true
}

// ConvertArgs holds the parsed arguments of a convert command.
type ConvertArgs struct {
	Mention model.Mention
	Targets []string
}

// ParseConvertArgs parses: <amount> <FROM> [TO...]
func ParseConvertArgs(args []string) (ConvertArgs, error) {
	if len(args) < 2 {
		return ConvertArgs{}, fmt.Errorf("usage: convert <amount> <FROM> [TO...]")
	}

	amount, err := decimal.NewFromString(args[0])
	if err != nil || amount.IsNegative() {
		return ConvertArgs{}, fmt.Errorf("invalid amount %q", args[0])
	}

	from, err := parseCode(args[1])
	if err != nil {
		return ConvertArgs{}, err
	}

	to, err := ParseCodes(args[2:])
	if err != nil {
		return ConvertArgs{}, err
	}

	return ConvertArgs{
		Mention: model.Mention{Code: from, Amount: amount},
		Targets: to,
	}, nil
}

// ParseCodes normalises a list of currency codes. Commas between codes are
// allowed.
func ParseCodes(args []string) ([]string, error) {
	var codes []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part == "" {
				continue
			}
			code, err := parseCode(part)
			if err != nil {
				return nil, err
			}
			codes = append(codes, code)
		}
	}
	return codes, nil
}

func parseCode(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return "", fmt.Errorf("invalid currency code %q", s)
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency code %q", s)
		}
	}
	return s, nil
}
