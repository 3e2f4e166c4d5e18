package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TypeBlocklistURI is either a readable local file or a public http(s)
// URL of the IP list.
type TypeBlocklistURI struct {
	Value string
}

func (t *TypeBlocklistURI) Set(value string) error {
	if stat, err := os.Stat(value); err == nil {
		return t.setFile(value, stat)
	}

	return t.setURL(value)
}

func (t *TypeBlocklistURI) setFile(value string, stat os.FileInfo) error {
	switch {
	case stat.IsDir():
		return fmt.Errorf("value is correct filepath but directory")
	case stat.Mode().Perm()&0o444 == 0:
		return fmt.Errorf("value is correct filepath but not readable")
	}

	abs, err := filepath.Abs(value)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path of %s: %w", value, err)
	}

	t.Value = abs

	return nil
}

func (t *TypeBlocklistURI) setURL(value string) error {
	parsedURL, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("incorrect url (%s): %w", value, err)
	}

	switch {
	case parsedURL.Scheme != "http" && parsedURL.Scheme != "https":
		return fmt.Errorf("unknown schema %s (%s)", parsedURL.Scheme, value)
	case parsedURL.Hostname() == "":
		return fmt.Errorf("incorrect host in url %s", value)
	case parsedURL.User != nil:
		return fmt.Errorf("credentials in url are not allowed (%s)", value)
	}

	if port := parsedURL.Port(); port != "" {
		if portNo, err := strconv.Atoi(port); err != nil || portNo <= 0 || portNo > 65535 {
			return fmt.Errorf("incorrect port in url %s", value)
		}
	}

	if isInternalHost(parsedURL.Hostname()) {
		return fmt.Errorf("lists cannot be fetched from internal hosts (%s)", value)
	}

	t.Value = parsedURL.String()

	return nil
}

func (t TypeBlocklistURI) Get(defaultValue string) string {
	if t.Value == "" {
		return defaultValue
	}

	return t.Value
}

// IsRemote is true for URLs. Local files are kept as absolute paths.
func (t TypeBlocklistURI) IsRemote() bool {
	return !filepath.IsAbs(t.Value)
}

func (t *TypeBlocklistURI) UnmarshalText(data []byte) error {
	return t.Set(string(data))
}

func (t TypeBlocklistURI) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t TypeBlocklistURI) String() string {
	return t.Value
}

// SplitLists separates local files and remote URLs.
func SplitLists(uris []TypeBlocklistURI) (files, urls []string) {
	for _, uri := range uris {
		if uri.IsRemote() {
			urls = append(urls, uri.Value)
		} else {
			files = append(files, uri.Value)
		}
	}

	return files, urls
}

func isInternalHost(hostname string) bool {
	host := strings.ToLower(strings.TrimSpace(hostname))

	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".local") {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}
