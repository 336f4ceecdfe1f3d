package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ScrapeKey is the key for a scraped page.
func ScrapeKey(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSuffix(strings.TrimSpace(url), "/")))
	return "scrape:" + hex.EncodeToString(sum[:12])
}

// JobActivityKey tracks the last activity of a job.
func JobActivityKey(jobID string) string {
	return fmt.Sprintf("job:%s:activity", jobID)
}
