package utils

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// interfaceAddrs 本机网卡地址，测试中可替换
var interfaceAddrs = net.InterfaceAddrs

// IsIP 是否为合法的IP地址
func IsIP(s string) bool {
	return net.ParseIP(s) != nil
}

// FirstNonLoopbackIP 本机第一个IPv4地址。
// network 为空时跳过回环地址；network 为CIDR时返回第一个落在该网段内的地址
func FirstNonLoopbackIP(network string) (string, error) {
	var subnet *net.IPNet
	if network != "" {
		_, n, err := net.ParseCIDR(network)
		if err != nil {
			return "", fmt.Errorf("invalid network %q: %w", network, err)
		}
		subnet = n
	}

	addrs, err := interfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		ip := ipnet.IP.To4()
		if subnet != nil {
			if subnet.Contains(ip) {
				return ip.String(), nil
			}
			continue
		}
		if !ip.IsLoopback() {
			return ip.String(), nil
		}
	}
	return "", nil
}

// HostByIP 反向解析主机名，失败时返回IP本身
func HostByIP(ip string) string {
	names, err := net.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ip
	}
	return strings.TrimSuffix(names[0], ".")
}

// IPByHost 解析主机名的IPv4地址，失败时返回主机名本身
func IPByHost(host string) string {
	if IsIP(host) {
		return host
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return host
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(ips) > 0 {
		return ips[0].String()
	}
	return host
}

// GetIPAndHost 本机的 (ip, 主机名)。
// 优先使用网卡上第一个符合条件的IPv4地址并反查主机名，找不到时使用系统主机名解析出的地址
func GetIPAndHost(network string) (string, string) {
	ip, _ := FirstNonLoopbackIP(network)
	if ip != "" {
		return ip, HostByIP(ip)
	}

	host, err := os.Hostname()
	if err != nil {
		return "127.0.0.1", "localhost"
	}
	return IPByHost(host), host
}

// GetOutboundIP 向注册中心地址发起UDP“连接”，取路由选择的本地出口地址。不会真正发送数据
func GetOutboundIP(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("no host in %q", serverURL)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	conn, err := net.Dial("udp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
