package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// PublicIpUrl is the url to get the public ip of the server
const PublicIpUrl = "https://api.ipify.org"

// GetServerPublicIP asks PublicIpUrl for the address this host is seen with
// from the internet.
func GetServerPublicIP(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, PublicIpUrl, nil)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	ipifyRes, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error getting public ip: %w", err)
	}
	defer ipifyRes.Body.Close()
	if ipifyRes.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error getting public ip: %s", ipifyRes.Status)
	}
	ftpServerIPv4, err := io.ReadAll(io.LimitReader(ipifyRes.Body, 64))
	if err != nil {
		return "", fmt.Errorf("error reading public ip: %w", err)
	}
	return strings.TrimSpace(string(ftpServerIPv4)), nil
}

// LocalIPv4 returns the first IPv4 address of an interface that is up and not
// a loopback.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipnet.IP.To4(); ip != nil && !ip.IsLoopback() {
				return ip, nil
			}
		}
	}
	return nil, fmt.Errorf("no non-loopback IPv4 address found")
}
