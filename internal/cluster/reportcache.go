package cluster

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// reportCacheTTL bounds how long a (worker id, failure code) pair is
// suppressed from producing a second report_failure event, absorbing the
// duplicate reports a flapping worker would otherwise generate while the
// membership manager is still processing its eviction.
const reportCacheTTL = 30 * time.Second

const reportCacheSize = 4096

// newReportCache builds the dedup cache for outbound failure reports.
func newReportCache() *expirable.LRU[string, struct{}] {
	return expirable.NewLRU[string, struct{}](reportCacheSize, nil, reportCacheTTL)
}
