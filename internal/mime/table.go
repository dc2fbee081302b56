package mime

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const (
	DefaultFile = "MIME.txt"
	maxLine     = 255
)

var builtin = map[string]string{
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
	"htm":  "text/html",
	"html": "text/html",
	"xml":  "text/xml",
	"css":  "text/css",
	"mp4":  "video/mp4",
	"js":   "application/javascript",
	"json": "application/json",
	"png":  "image/png",
	"svg":  "image/svg+xml",
	"txt":  "text/plain",
	"obj":  "model/obj",
	"mtl":  "model/mtl",
}

// Opener is satisfied by a volume task.
type Opener interface {
	Open(name string) (*os.File, error)
}

// Table resolves file extensions to content types. The card's MIME.txt is
// consulted on every lookup, then the built-in list.
type Table struct {
	File string
}

func NewTable() *Table {
	return &Table{File: DefaultFile}
}

// Lookup returns the content type for ext, or false when neither the card
// nor the built-in list knows it.
func (t *Table) Lookup(o Opener, ext string) (string, bool) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return "", false
	}
	if o != nil {
		if typ, ok := t.lookupFile(o, ext); ok {
			return typ, true
		}
	}
	typ, ok := builtin[strings.ToLower(ext)]
	return typ, ok
}

func (t *Table) lookupFile(o Opener, ext string) (string, bool) {
	f, err := o.Open("/" + t.File)
	if err != nil {
		return "", false
	}
	defer f.Close()

	lr := NewLineReader(f)
	for {
		line, err := lr.ReadLine(maxLine)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Log.Warn("Reading MIME table failed", "file", t.File, "err", err)
			}
			return "", false
		}
		if line[0] == '#' || line[0] == ' ' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], ext) {
			continue
		}
		return fields[1], true
	}
}
