package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrBlockedAddress indica uma URL de mídia que resolve para a rede interna.
var ErrBlockedAddress = errors.New("endereço de mídia bloqueado")

// 100.64.0.0/10 (CGNAT) não entra em netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// IsPublicAddr informa se o endereço pode ser alcançado por downloads de
// mídia vindos de payloads não autenticados.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return false
	}
	switch {
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsUnspecified(),
		addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(), addr.IsMulticast():
		return false
	}
	return !sharedAddressSpace.Contains(addr)
}

// rejectInternal roda depois da resolução DNS, então também cobre hosts
// que apontam para IPs internos e redirecionamentos.
func rejectInternal(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !IsPublicAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, ap.Addr())
	}
	return nil
}

// publicTransport é o transport dos downloads de mídia. Sem proxy, para que
// a checagem valha para o destino real.
func publicTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   rejectInternal,
	}).DialContext
	return t
}
