package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-ratecache/types"
)

const (
	EncodingBrotli = "br"
	EncodingGzip   = "gzip"

	DefaultCompressionLevel     = 6
	DefaultCompressionThreshold = 1024
	minCompressionRatio         = 0.05
)

var defaultCompressibleTypes = []string{
	"application/json",
	"text/*",
}

// CompressionMiddleware encodes large textual responses with brotli or gzip,
// whichever the client accepts first in that order.
type CompressionMiddleware struct {
	logger       types.Logger
	metrics      types.MetricsManager
	level        int
	threshold    int
	allowedTypes []string
	brotliPool   sync.Pool
	gzipPool     sync.Pool
	bufferPool   sync.Pool
}

func NewCompressionMiddleware(logger types.Logger, metrics types.MetricsManager, config *types.CompressionConfig) *CompressionMiddleware {
	c := &CompressionMiddleware{
		logger:       logger,
		metrics:      metrics,
		level:        DefaultCompressionLevel,
		threshold:    DefaultCompressionThreshold,
		allowedTypes: defaultCompressibleTypes,
	}

	if config != nil {
		if config.Level >= 1 && config.Level <= 9 {
			c.level = config.Level
		}
		if config.Threshold > 0 {
			c.threshold = config.Threshold
		}
		if len(config.AllowedTypes) > 0 {
			c.allowedTypes = config.AllowedTypes
		}
	}

	c.brotliPool.New = func() interface{} { return brotli.NewWriterLevel(io.Discard, c.level) }
	c.gzipPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, c.level)
		return w
	}
	c.bufferPool.New = func() interface{} { return new(bytes.Buffer) }

	return c
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return WeightCompression }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler, _ *types.RouteConfig) {
	encoding := negotiateEncoding(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))

	next(ctx)

	if encoding == "" || len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.threshold || !c.compressible(ctx.Response.Header.ContentType()) {
		return
	}

	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	if err := c.encode(encoding, buf, body); err != nil {
		c.logger.Warn("Response compression failed",
			zap.String("encoding", encoding),
			zap.Error(err))
		return
	}

	if 1-float64(buf.Len())/float64(len(body)) < minCompressionRatio {
		return
	}

	ctx.Response.SetBody(buf.Bytes())
	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, encoding)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)

	c.metrics.Counter("http_compressed_responses_total", map[string]string{"encoding": encoding}).Inc()
}

func (c *CompressionMiddleware) encode(encoding string, dst *bytes.Buffer, body []byte) error {
	switch encoding {
	case EncodingBrotli:
		w := c.brotliPool.Get().(*brotli.Writer)
		defer c.brotliPool.Put(w)
		w.Reset(dst)
		if _, err := w.Write(body); err != nil {
			return err
		}
		return w.Close()
	default:
		w := c.gzipPool.Get().(*gzip.Writer)
		defer c.gzipPool.Put(w)
		w.Reset(dst)
		if _, err := w.Write(body); err != nil {
			return err
		}
		return w.Close()
	}
}

func (c *CompressionMiddleware) compressible(contentType []byte) bool {
	mediaType := string(contentType)
	if semicolon := strings.IndexByte(mediaType, ';'); semicolon != -1 {
		mediaType = mediaType[:semicolon]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		return false
	}

	for _, allowed := range c.allowedTypes {
		if allowed == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

// negotiateEncoding prefers brotli over gzip and skips codings sent
// with q=0.
func negotiateEncoding(acceptEncoding []byte) string {
	var gzipOK bool

	for _, part := range strings.Split(string(acceptEncoding), ",") {
		coding, params, _ := strings.Cut(part, ";")

		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if weight, err := strconv.ParseFloat(q, 64); err == nil && weight == 0 {
				continue
			}
		}

		switch strings.TrimSpace(coding) {
		case EncodingBrotli:
			return EncodingBrotli
		case EncodingGzip:
			gzipOK = true
		}
	}

	if gzipOK {
		return EncodingGzip
	}
	return ""
}
