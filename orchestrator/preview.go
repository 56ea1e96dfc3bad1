// ABOUTME: Derives the preview and management URLs from the active exchange and history.
// ABOUTME: The product URL gets a timestamp marker so an embedded preview reloads instead of serving a cached page.
package orchestrator

import (
	"strconv"
	"strings"
	"time"

	"github.com/2389-research/kiwi/exchange"
)

// CacheBustParam is appended to the product URL.
const CacheBustParam = "__kiwi__timestamp__"

// previewURLs scans the active exchange first, then history newest-first,
// taking the first non-empty product and management URL independently.
func previewURLs(active *exchange.Exchange, history []exchange.Exchange) (product, management string) {
	consider := func(ex *exchange.Exchange) bool {
		if ex == nil {
			return false
		}
		if product == "" && ex.ProductURL != nil && *ex.ProductURL != "" {
			product = *ex.ProductURL
		}
		if management == "" && ex.ManagementURL != nil && *ex.ManagementURL != "" {
			management = *ex.ManagementURL
		}
		return product != "" && management != ""
	}

	if consider(active) {
		return product, management
	}
	for i := len(history) - 1; i >= 0; i-- {
		if consider(&history[i]) {
			break
		}
	}
	return product, management
}

// withCacheBuster appends CacheBustParam=<unix-millis> to rawURL.
func withCacheBuster(rawURL string, now time.Time) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + CacheBustParam + "=" + strconv.FormatInt(now.UnixMilli(), 10)
}
