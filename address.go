package qiuws

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Family 地址族
type Family string

const (
	IPv4 Family = "IPv4"
	IPv6 Family = "IPv6"
)

// Address 规范化后的监听地址
type Address struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Family  Family `json:"family" yaml:"family"`
}

// String host:port 形式（IPv6 带方括号）
func (a Address) String() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

// ValidatePort 端口必须在 [0, 65535]，0 表示由系统分配
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return ErrInvalidPort.WithError(fmt.Errorf("port should be >= 0 and < 65536, received %d", port))
	}
	return nil
}

// ParsePort 解析字符串端口，空字符串视为 0
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidPort.WithError(fmt.Errorf("port %q is not a number", s))
	}
	if err := ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}

// Resolver 把 host/port 解析为 Address
// 同一主机名的并发 DNS 查询合并为一次
type Resolver struct {
	preferIPv6 bool
	lookup     *net.Resolver
	group      singleflight.Group
}

// NewResolver 创建 Resolver，preferIPv6 影响 localhost、空主机与多地址结果的选择
func NewResolver(preferIPv6 bool) *Resolver {
	return &Resolver{preferIPv6: preferIPv6, lookup: net.DefaultResolver}
}

// Resolve 校验端口并解析主机
//
//	""          -> 0.0.0.0（preferIPv6 时为 ::）
//	"localhost" -> 127.0.0.1（preferIPv6 时为 ::1）
//	"[..."      -> ErrAddressNotFound
func (r *Resolver) Resolve(ctx context.Context, host string, port int) (*Address, error) {
	if err := ValidatePort(port); err != nil {
		return nil, err
	}
	if strings.HasPrefix(host, "[") {
		return nil, ErrAddressNotFound.WithError(fmt.Errorf("getaddrinfo ENOTFOUND %s", host))
	}

	switch host {
	case "":
		if r.preferIPv6 {
			return newAddress(netip.IPv6Unspecified(), port), nil
		}
		return newAddress(netip.IPv4Unspecified(), port), nil
	case "localhost":
		if r.preferIPv6 {
			return newAddress(netip.IPv6Loopback(), port), nil
		}
		return newAddress(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port), nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return newAddress(ip, port), nil
	}

	v, err, _ := r.group.Do(host, func() (any, error) {
		return r.lookup.LookupNetIP(ctx, "ip", host)
	})
	if err != nil {
		return nil, ErrAddressNotFound.WithError(err)
	}
	ips := v.([]netip.Addr)
	if len(ips) == 0 {
		return nil, ErrAddressNotFound.WithError(fmt.Errorf("getaddrinfo ENOTFOUND %s", host))
	}

	pick := ips[0]
	for _, ip := range ips {
		if ip.Unmap().Is6() == r.preferIPv6 {
			pick = ip
			break
		}
	}
	return newAddress(pick, port), nil
}

func newAddress(ip netip.Addr, port int) *Address {
	ip = ip.Unmap()
	family := IPv4
	if ip.Is6() {
		family = IPv6
	}
	return &Address{Address: ip.WithZone("").String(), Port: port, Family: family}
}
