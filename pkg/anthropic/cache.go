package anthropic

// DefaultCacheTTL is the prompt cache lifetime requested for system blocks.
const DefaultCacheTTL = "1h"

// CachedSystem turns system prompt parts into blocks with one cache
// breakpoint on the last non-empty part, so every part before it is cached
// as a prefix. Empty parts are dropped.
func CachedSystem(parts ...string) []SystemBlock {
	blocks := make([]SystemBlock, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			blocks = append(blocks, SystemBlock{Text: p})
		}
	}
	if n := len(blocks); n > 0 {
		blocks[n-1].CacheControl = &CacheControl{TTL: DefaultCacheTTL}
	}
	return blocks
}
