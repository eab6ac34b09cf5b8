package discovery

import (
	"net/url"
	"strings"

	"github.com/sells-group/grant-funnel/internal/model"
)

// DirectoryHosts are listing sites that describe a funder without being
// its own website. Crawling them yields the directory's content, not the
// funder's.
var DirectoryHosts = []string{
	"guidestar.org",
	"candid.org",
	"charitynavigator.org",
	"causeiq.com",
	"instrumentl.com",
	"facebook.com",
	"linkedin.com",
}

// ScreenWebsite clears a website that is unparseable or points at a
// directory listing. It reports whether the URL was cleared.
func ScreenWebsite(c *model.CandidateRecord, blocklist []string) bool {
	if c.WebsiteURL == "" {
		return false
	}
	u, err := url.Parse(c.WebsiteURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		c.WebsiteURL = ""
		return true
	}
	if isDirectoryURL(c.WebsiteURL, blocklist) {
		c.WebsiteURL = ""
		return true
	}
	return false
}

// isDirectoryURL checks if a URL's hostname matches any entry in the blocklist.
func isDirectoryURL(website string, blocklist []string) bool {
	u, err := url.Parse(website)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	for _, blocked := range blocklist {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
