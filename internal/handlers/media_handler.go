package handlers

import (
	"bufio"
	"context"
	"io"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dakael7/gravitylabs/internal/httpx"
	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/storage"
	"github.com/gofiber/fiber/v2"
)

const attachmentPrefix = "attachments"

// ObjectReader is satisfied by *storage.S3Storage.
type ObjectReader interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectStat, error)
}

type MediaHandler struct {
	store ObjectReader
}

func NewMediaHandler(store ObjectReader) *MediaHandler {
	return &MediaHandler{store: store}
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

// attachmentOwner extracts the escaped conversation key from
// attachments/<key>/<file>.
func attachmentOwner(key string) (string, bool) {
	parts := strings.SplitN(strings.TrimPrefix(key, attachmentPrefix+"/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	owner, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", false
	}
	return owner, true
}

func (h *MediaHandler) GetAttachment(c *fiber.Ctx) error {
	if h.store == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured")
	}
	actor, err := middleware.ActorFrom(c)
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	key, err := storage.CleanKey(attachmentPrefix, c.Params("*"))
	if err != nil {
		return httpx.NotFound(c, "not_found")
	}
	owner, ok := attachmentOwner(key)
	if !ok || !actor.CanAccess(owner) {
		return httpx.NotFound(c, "not_found")
	}

	obj, st, err := h.store.GetObject(c.UserContext(), key)
	if err != nil {
		if storage.IsNotFound(err) {
			return httpx.NotFound(c, "not_found")
		}
		log.Printf("[media] attachment get error key=%q err=%v", key, err)
		return httpx.Internal(c, "media_fetch_failed")
	}

	if etag := st.ETag; etag != "" {
		c.Set(fiber.HeaderETag, "\""+etag+"\"")
		if inm := normalizeETag(c.Get(fiber.HeaderIfNoneMatch)); inm != "" && inm == normalizeETag(etag) {
			_ = obj.Close()
			return c.SendStatus(fiber.StatusNotModified)
		}
	}
	if !st.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, st.LastModified.UTC().Format(time.RFC1123))
	}

	c.Set(fiber.HeaderCacheControl, "private, max-age=31536000, immutable")
	contentType := st.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	if st.Size > 0 {
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(st.Size, 10))
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = obj.Close()
		}()

		n, copyErr := io.Copy(w, obj)
		if copyErr != nil {
			log.Printf("[media] attachment stream error key=%q copied=%d err=%v", key, n, copyErr)
			return
		}
		if err := w.Flush(); err != nil {
			log.Printf("[media] attachment stream flush error key=%q copied=%d err=%v", key, n, err)
		}
	})
	return nil
}
