// Package phone normaliza identificadores de contato vindos dos provedores
// (JIDs do WhatsApp, números com máscara) para dígitos em formato E.164 sem "+".
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// StripJID remove o sufixo @s.whatsapp.net / @c.us e o device (":12").
func StripJID(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "@"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.Index(raw, ":"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

// IsGroup indica JIDs de grupo, que não representam um contato individual.
func IsGroup(raw string) bool {
	return strings.HasSuffix(raw, "@g.us") || strings.Contains(StripJID(raw), "-")
}

func Digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize devolve o número em E.164 sem "+". Números sem DDI usam
// defaultRegion. Quando a biblioteca não reconhece o número, retorna só os dígitos.
func Normalize(raw, defaultRegion string) string {
	stripped := StripJID(raw)
	digits := Digits(stripped)
	if digits == "" {
		return ""
	}

	candidate := digits
	region := defaultRegion
	if strings.HasPrefix(strings.TrimSpace(stripped), "+") || len(digits) > 11 {
		candidate = "+" + digits
		region = ""
	}

	parsed, err := phonenumbers.Parse(candidate, region)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return digits
	}
	return strings.TrimPrefix(phonenumbers.Format(parsed, phonenumbers.E164), "+")
}
