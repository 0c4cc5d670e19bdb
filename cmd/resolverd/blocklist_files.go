package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/foxhound-dns/resolver/internal/adminapi"
)

// loadBlocklistFiles seeds repo's static blocklist from local files in
// hosts-file or AdBlock-style format, grounded on the teacher's
// pkg/blocklist.Downloader.parseHostsFile/extractDomain — reused here for
// config-supplied local paths rather than HTTP-downloaded lists, since
// this resolver's blocklist sources are admin-API/database driven at
// runtime and these files only seed the initial state.
func loadBlocklistFiles(paths []string, repo *adminapi.Repository) (int, error) {
	total := 0
	for _, path := range paths {
		n, err := loadBlocklistFile(path, repo)
		if err != nil {
			return total, fmt.Errorf("load blocklist file %s: %w", path, err)
		}
		total += n
	}
	return total, nil
}

func loadBlocklistFile(path string, repo *adminapi.Repository) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- path is operator-supplied config, not user input
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domain, wildcard := extractBlocklistDomain(line)
		if domain == "" {
			continue
		}
		repo.AddBlocklistEntry(domain, wildcard, 1)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// extractBlocklistDomain pulls a domain out of a hosts-file line
// ("0.0.0.0 domain.com"), an AdBlock-style line ("||domain.com^", treated
// as a wildcard covering subdomains), or a bare domain per line.
func extractBlocklistDomain(line string) (domain string, wildcard bool) {
	if strings.HasPrefix(line, "||") && strings.Contains(line, "^") {
		d := strings.TrimPrefix(line, "||")
		d = strings.SplitN(d, "^", 2)[0]
		return strings.TrimSpace(d), true
	}

	fields := strings.Fields(line)
	if len(fields) >= 2 && (strings.Contains(fields[0], ".") || strings.Contains(fields[0], ":")) {
		d := fields[1]
		if d == "localhost" || d == "localhost.localdomain" {
			return "", false
		}
		return d, false
	}
	if len(fields) == 1 {
		return fields[0], false
	}
	return "", false
}
