package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	auth "github.com/castellan/castellan"
)

// DeviceInfo is what we can tell about a client from its user agent.
type DeviceInfo struct {
	Browser    string
	OS         string
	DeviceType auth.DeviceType
}

// Name renders a human readable device label for session listings.
func (d DeviceInfo) Name() string {
	if d.Browser == "" && d.OS == "" {
		return "Unknown device"
	}
	if d.OS == "" {
		return d.Browser
	}
	if d.Browser == "" {
		return d.OS
	}
	return fmt.Sprintf("%s on %s", d.Browser, d.OS)
}

// Fingerprint derives the deterministic device fingerprint for a
// request: user agent family, OS and IP class. IPv4 collapses to its
// /24, IPv6 to its /64, so a DHCP lease renewal within the same
// network does not produce a new device.
func Fingerprint(rc auth.RequestContext) string {
	info := ParseUserAgent(rc.UserAgent)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", info.Browser, info.OS, ipClass(rc.IP))
	return hex.EncodeToString(h.Sum(nil))
}

func ipClass(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}

	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}

	return ip.Mask(net.CIDRMask(64, 128)).String()
}

// ParseUserAgent classifies a user agent string. Matching is by
// substring; order matters because Chrome claims Safari and Edge
// claims Chrome.
func ParseUserAgent(ua string) DeviceInfo {
	lower := strings.ToLower(ua)

	info := DeviceInfo{
		Browser:    browserFamily(lower),
		OS:         osFamily(lower),
		DeviceType: deviceType(lower),
	}

	return info
}

func browserFamily(ua string) string {
	switch {
	case strings.Contains(ua, "edg/"), strings.Contains(ua, "edge/"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox/"):
		return "Firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "Chrome"
	case strings.Contains(ua, "safari/"):
		return "Safari"
	case ua == "":
		return ""
	default:
		return "Other"
	}
}

func osFamily(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"),
		strings.Contains(ua, "ios"):
		return "iOS"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	case ua == "":
		return ""
	default:
		return "Other"
	}
}

func deviceType(ua string) auth.DeviceType {
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return auth.DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"),
		strings.Contains(ua, "android"):
		return auth.DeviceMobile
	default:
		return auth.DeviceDesktop
	}
}
