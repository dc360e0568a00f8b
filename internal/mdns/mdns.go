// Package mdns advertises and discovers fobosrx IQ servers over DNS-SD.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service an IQ server registers.
	ServiceType = "_fobos-iq._tcp"
	Domain      = "local."
)

// Host represents a discovered IQ server
type Host struct {
	Instance  string // Advertised name: "fobos SN1234"
	Hostname  string // DNS hostname: "shack.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Field returns the value of a key=value TXT record.
func (h Host) Field(key string) (string, bool) {
	for _, kv := range h.TXT {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// Addr returns a dialable host:port, preferring IPv4. It falls back to the
// hostname when no address was resolved.
func (h Host) Addr() string {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port))
		}
	}
	if len(h.Addresses) > 0 {
		return net.JoinHostPort(h.Addresses[0].String(), strconv.Itoa(h.Port))
	}
	return net.JoinHostPort(strings.TrimSuffix(h.Hostname, "."), strconv.Itoa(h.Port))
}

// Advert describes the service registration.
type Advert struct {
	Instance   string
	Port       int
	Serial     string
	SampleRate float64
}

func (a Advert) txt() []string {
	txt := []string{"format=cf32", "proto=fob0"}
	if a.Serial != "" {
		txt = append(txt, "serial="+a.Serial)
	}
	if a.SampleRate > 0 {
		txt = append(txt, "rate="+strconv.FormatFloat(a.SampleRate, 'f', -1, 64))
	}
	return txt
}

// Advertise registers a on all interfaces and keeps it registered until ctx
// is done.
func Advertise(ctx context.Context, a Advert) error {
	if a.Instance == "" {
		a.Instance = "fobosrx"
	}
	server, err := zeroconf.Register(a.Instance, ServiceType, Domain, a.Port, a.txt(), nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	defer server.Shutdown()
	<-ctx.Done()
	return nil
}

// Discover performs a blocking browse for IQ servers until timeout elapses
// or ctx is done. It returns cleaned and deduplicated host entries sorted by
// instance name.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := hostFromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	// Consolidate IPs (both v4 and v6)
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
