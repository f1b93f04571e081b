package middleware

import (
	"net"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// Cabeçalhos de proxy consultados em ordem; o primeiro endereço válido vence.
var clientIPHeaders = []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP", "X-Client-IP"}

// GetClientIP devolve o IP de origem considerando CDN e proxies reversos à
// frente do ingress de webhooks.
func GetClientIP(c *gin.Context) string {
	for _, header := range clientIPHeaders {
		value := c.GetHeader(header)
		if value == "" {
			continue
		}
		for _, candidate := range strings.Split(value, ",") {
			if addr, ok := parseAddr(candidate); ok {
				return addr.String()
			}
		}
	}
	return c.ClientIP()
}

// parseAddr aceita "ip", "ip:porta" e "[ipv6]:porta".
func parseAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap(), true
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		if addr, err := netip.ParseAddr(host); err == nil {
			return addr.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

// IsPrivateIP cobre RFC 1918, loopback e ULA IPv6; tráfego interno entre
// serviços não consome a cota dos provedores.
func IsPrivateIP(ip string) bool {
	addr, ok := parseAddr(ip)
	if !ok {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback()
}
