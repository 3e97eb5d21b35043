package service

import (
	"strings"
)

// phoneFromJID extracts the bare phone number from a provider user JID
// such as "5511999999999@s.whatsapp.net" or "5511999999999:12@c.us".
func phoneFromJID(jid string) string {
	user, _, found := strings.Cut(jid, "@")
	if !found {
		user = jid
	}
	// multi-device JIDs carry a ":<device>" suffix
	user, _, _ = strings.Cut(user, ":")
	return strings.TrimSpace(user)
}

// normalizePhone reduces a phone number to the digits-only international
// form the gateway expects, dropping formatting and a leading plus.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
