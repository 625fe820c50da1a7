// Package target expands a subnet into the host addresses a backup run visits.
package target

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

const (
	// DefaultMaxTargets is the address limit applied by Expand.
	DefaultMaxTargets = 1 << 16
	// maxHostBits bounds expansion even without a limit; larger blocks cannot
	// be held in memory as a list.
	maxHostBits = 32
)

var (
	ErrInvalidSubnet  = errors.New("invalid subnet")
	ErrTooManyTargets = errors.New("subnet too large")
)

// Expand returns the usable host addresses of cidr in ascending order.
//
// Host bits set in the given address are ignored. For IPv4 blocks of four or
// more addresses the network and broadcast addresses are left out; for IPv6
// only the subnet-router anycast address is. A bare address expands to itself.
// Blocks holding more than DefaultMaxTargets addresses are rejected.
func Expand(cidr string) ([]string, error) {
	return ExpandLimit(cidr, DefaultMaxTargets)
}

// ExpandLimit is Expand with a caller-chosen address limit. A limit of zero
// or less disables it, though blocks wider than 2^32 addresses are still
// refused.
func ExpandLimit(cidr string, limit int) ([]string, error) {
	prefix, err := parse(cidr)
	if err != nil {
		return nil, err
	}

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits > maxHostBits {
		return nil, fmt.Errorf("%w: %s holds 2^%d addresses", ErrTooManyTargets, prefix, hostBits)
	}
	size := 1 << hostBits
	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: %s holds 2^%d addresses, limit is %d", ErrTooManyTargets, prefix, hostBits, limit)
	}

	skipFirst, skipLast := false, false
	if hostBits >= 2 {
		skipFirst = true
		skipLast = prefix.Addr().Is4()
	}

	hosts := make([]string, 0, size)
	addr := prefix.Addr()
	for i := 0; i < size; i++ {
		last := i == size-1
		if !(i == 0 && skipFirst) && !(last && skipLast) {
			hosts = append(hosts, addr.String())
		}
		addr = addr.Next()
	}
	return hosts, nil
}

func parse(cidr string) (netip.Prefix, error) {
	cidr = strings.TrimSpace(cidr)
	if cidr == "" {
		return netip.Prefix{}, fmt.Errorf("%w: empty input", ErrInvalidSubnet)
	}
	if !strings.Contains(cidr, "/") {
		addr, err := netip.ParseAddr(cidr)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w %q: %v", ErrInvalidSubnet, cidr, err)
		}
		return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
	}
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w %q: %v", ErrInvalidSubnet, cidr, err)
	}
	return p.Masked(), nil
}
