package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey = "responseMeta"
	cacheHitKey     = "cacheHit"
	processingKey   = "processingTimeMs"
)

type responseMeta struct {
	start  time.Time
	values map[string]interface{}
}

// WithResponseMeta starts collecting response metadata for the request.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseMetaKey, &responseMeta{start: time.Now(), values: map[string]interface{}{}})
		c.Next()
	}
}

// SetMeta records a metadata value for the response envelope.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if c == nil {
		return
	}
	meta := lookupMeta(c)
	if meta == nil {
		meta = &responseMeta{start: time.Now(), values: map[string]interface{}{}}
		c.Set(responseMetaKey, meta)
	}
	meta.values[key] = value
}

// SetCacheHit records whether the response was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitKey, hit)
}

// ExtractMeta returns a snapshot of the collected metadata including the
// elapsed processing time. It returns nil when nothing was collected.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := lookupMeta(c)
	if meta == nil {
		return nil
	}
	out := make(map[string]interface{}, len(meta.values)+1)
	for k, v := range meta.values {
		out[k] = v
	}
	out[processingKey] = time.Since(meta.start).Milliseconds()
	return out
}

func lookupMeta(c *gin.Context) *responseMeta {
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, _ := value.(*responseMeta)
	return meta
}
