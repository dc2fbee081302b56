package web

import (
	"embed"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/The-Promised-Neverland/cardhost/internal/volume"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

//go:embed static
var staticFiles embed.FS

// indexPatterns are tried in order when the card root is requested.
var indexPatterns = []string{"index.ht*", "*.htm", "*.html"}

// splitURL cuts a request path into its directory (with trailing slash),
// file name and extension without the dot.
func splitURL(p string) (dir, name, ext string) {
	p = "/" + strings.TrimLeft(p, "/")
	i := strings.LastIndex(p, "/")
	dir, name = p[:i+1], p[i+1:]
	if j := strings.LastIndex(name, "."); j >= 0 {
		ext = name[j+1:]
	}
	return dir, name, ext
}

// Card serves files from the flash card, falling back to the built-in pages.
func (h *Handler) Card(c *gin.Context) {
	r := c.Request
	if websocket.IsWebSocketUpgrade(r) {
		h.upgrade(c)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		c.Header("Allow", "GET, HEAD")
		c.String(http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	task, err := h.Service.Volume().Enter()
	if err != nil {
		logger.Log.Warn("No card task for HTTP request", "path", r.URL.Path, "err", err)
		c.String(http.StatusServiceUnavailable, "Card busy: %s", volume.CodeOf(err))
		return
	}
	defer task.Release()

	dir, name, ext := splitURL(r.URL.Path)
	if fi, err := task.Stat(dir); err == nil && fi.IsDir() {
		switch {
		case name == "" && dir == "/":
			if index := findIndex(task); index != "" {
				c.Redirect(http.StatusFound, "/"+url.PathEscape(index))
				return
			}
		case name != "":
			if h.sendFile(c, task, dir+name, ext) {
				return
			}
			if strings.EqualFold(name, "DIR") {
				h.listDir(c, task, dir)
				return
			}
		}
	}
	h.serveStatic(c, dir+name)
}

func findIndex(task *volume.Task) string {
	for _, pattern := range indexPatterns {
		if name, err := task.Find("/", pattern); err == nil {
			return name
		}
	}
	return ""
}

func (h *Handler) upgrade(c *gin.Context) {
	if !strings.EqualFold(strings.Trim(c.Request.URL.Path, "/"), "INDEX") {
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	h.Hub.Upgrade(c.Writer, c.Request)
}

// sendFile streams a card file to the browser. It reports false when the
// file cannot be opened, leaving the response untouched.
func (h *Handler) sendFile(c *gin.Context, task *volume.Task, name, ext string) bool {
	f, err := task.Open(name)
	if err != nil {
		logger.Log.Debug("File not on card, trying built-in pages", "path", name, "code", volume.CodeOf(err))
		return false
	}
	defer f.Close()
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		return false
	}
	store, err := transfer.NewFileStore(f)
	if err != nil {
		return false
	}

	hdr := c.Writer.Header()
	hdr.Set("Pragma", "no-cache")
	hdr.Set("MIME-version", "1.0")
	if typ, ok := h.mime.Lookup(task, ext); ok {
		hdr.Set("Content-Type", typ)
	} else {
		// leave the type to the browser
		hdr["Content-Type"] = nil
	}
	hdr.Set("Content-Length", strconv.FormatInt(store.Size(), 10))
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	if c.Request.Method == http.MethodHead {
		return true
	}

	buf := h.pool.Get()
	defer h.pool.Put(buf)
	tr := h.Service.Track(models.ProtocolHTTP, transfer.DirStoreToStream, task.Abs(name))
	n, err := transfer.SendFragment(c.Writer, store, store.Size(), *buf)
	chunks := int((n + int64(len(*buf)) - 1) / int64(len(*buf)))
	tr.Finish(transfer.Result{Direction: transfer.DirStoreToStream, Bytes: n, Chunks: chunks}, err)
	if err != nil {
		logger.Log.Error("Sending file to browser failed", "path", name, "bytes", n, "err", err)
	}
	return true
}

func (h *Handler) listDir(c *gin.Context, task *volume.Task, dir string) {
	entries, err := task.ReadDir(dir)
	if err != nil {
		c.String(http.StatusInternalServerError, "Cannot list %s: %s", dir, volume.CodeOf(err))
		return
	}
	var b strings.Builder
	b.WriteString("<html>\r\n   <body>\r\n")
	fmt.Fprintf(&b, "      <h2><font face=\"Arial\">Directory of %s</font></h2>\r\n", html.EscapeString(dir))
	b.WriteString("      <hr>\r\n      <ul><font face=\"Courier New\" size=\"2\">\r\n")
	for _, e := range entries {
		name := e.Name()
		href := url.PathEscape(name)
		icon := "/text.svg"
		if e.IsDir() {
			href += "/DIR"
			icon = "/folder.svg"
		}
		fmt.Fprintf(&b, "         <li><img src=\"%s\"><a href=\"%s\">%s</a>\r\n", icon, href, html.EscapeString(name))
	}
	b.WriteString("      </font></ul>\r\n      <hr>\r\n   </body>\r\n</html>")

	c.Header("Pragma", "no-cache")
	c.Header("MIME-version", "1.0")
	c.Data(http.StatusOK, "text/html", []byte(b.String()))
}

// serveStatic answers from the pages compiled into the binary.
func (h *Handler) serveStatic(c *gin.Context, name string) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = "index.html"
	}
	data, err := fs.ReadFile(staticFiles, "static/"+name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Log.Warn("Reading built-in page failed", "name", name, "err", err)
		}
		c.String(http.StatusNotFound, "Not Found")
		return
	}
	typ, ok := h.mime.Lookup(nil, path.Ext(name))
	if !ok {
		typ = "application/octet-stream"
	}
	c.Data(http.StatusOK, typ, data)
}
