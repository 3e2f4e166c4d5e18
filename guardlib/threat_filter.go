package guardlib

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxClassifiedPathLength bounds the work of the filter on hostile input.
// Anything longer is checked by its prefix only.
const maxClassifiedPathLength = 4096

var defaultThreatSignatures = []string{
	".env",
	".git/",
	".svn/",
	".hg/",
	".htaccess",
	".htpasswd",
	".ds_store",
	".aws/",
	".ssh/",
	".npmrc",
	".bash_history",
	"id_rsa",
	"id_dsa",
	"credentials.json",
	"docker-compose",
	"web.config",
	"wp-admin",
	"wp-login",
	"wp-config",
	"xmlrpc.php",
	"phpmyadmin",
	"phpinfo",
	"config.php",
	"shell.php",
	"/cgi-bin/",
	"/vendor/phpunit",
	"/etc/passwd",
	"/proc/self",
	"server-status",
	"backup.sql",
	"dump.sql",
	"../",
	"..\\",
}

// DefaultThreatSignatures returns a copy of the built-in signature list.
func DefaultThreatSignatures() []string {
	return append([]string(nil), defaultThreatSignatures...)
}

// Classification is a verdict of the threat filter.
type Classification struct {
	Suspicious bool

	// Signature is a matched signature.
	Signature string
}

// ThreatSignatures is an immutable set of lowercase substrings which are
// indicative of reconnaissance or secret file probing.
type ThreatSignatures struct {
	signatures []string
}

// Classify matches a path against the signatures. It is case-insensitive
// and also catches compatibility forms of characters like fullwidth dots.
func (t ThreatSignatures) Classify(path string) Classification {
	if len(path) > maxClassifiedPathLength {
		path = path[:maxClassifiedPathLength]
	}

	path = normalizeSignature(path)

	for _, sig := range t.signatures {
		if strings.Contains(path, sig) {
			return Classification{
				Suspicious: true,
				Signature:  sig,
			}
		}
	}

	return Classification{}
}

// Len returns a number of signatures.
func (t ThreatSignatures) Len() int {
	return len(t.signatures)
}

// NewThreatSignatures builds a signature set. Empty values and duplicates
// are skipped.
func NewThreatSignatures(signatures []string) ThreatSignatures {
	seen := make(map[string]struct{}, len(signatures))
	rv := ThreatSignatures{
		signatures: make([]string, 0, len(signatures)),
	}

	for _, sig := range signatures {
		sig = normalizeSignature(strings.TrimSpace(sig))
		if sig == "" {
			continue
		}

		if _, ok := seen[sig]; ok {
			continue
		}

		seen[sig] = struct{}{}
		rv.signatures = append(rv.signatures, sig)
	}

	return rv
}

func normalizeSignature(value string) string {
	return strings.ToLower(norm.NFKC.String(value))
}
