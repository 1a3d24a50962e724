package middleware

import (
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// rawArtifactRoute serves files with ranges and conditional requests,
// which a wrapped body would break. Everything else is JSON and
// compresses well.
const rawArtifactRoute = "/api/artifacts/:key"

// Gzip compresses responses for clients that accept it. WebSocket
// upgrades and raw artifact downloads pass through untouched.
func Gzip() gin.HandlerFunc {
	pool := sync.Pool{
		New: func() interface{} {
			w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
			return w
		},
	}

	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") ||
			c.GetHeader("Upgrade") != "" ||
			c.FullPath() == rawArtifactRoute {
			c.Next()
			return
		}

		gz := pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")

		orig := c.Writer
		c.Writer = &gzipWriter{ResponseWriter: orig, gz: gz}
		defer func() {
			gz.Close()
			c.Writer = orig
			pool.Put(gz)
		}()

		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipWriter) Write(data []byte) (int, error) {
	w.Header().Del("Content-Length")
	return w.gz.Write(data)
}

func (w *gzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *gzipWriter) WriteHeader(code int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(code)
}
