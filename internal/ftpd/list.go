package ftpd

import (
	"fmt"
	"io/fs"
	"sort"
	"time"
)

// formatEntry renders one LIST line in ls -l form. Entries from the current
// year show the time of day, older ones the year.
func formatEntry(fi fs.FileInfo, now time.Time) string {
	mode := "-rw-rw-rw-"
	size := fi.Size()
	if fi.IsDir() {
		mode = "drw-rw-rw-"
		size = 0
	}
	mt := fi.ModTime().In(now.Location())
	var date string
	if mt.Year() == now.Year() {
		date = mt.Format("Jan _2 15:04")
	} else {
		date = mt.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s   1 none none %9d %s %s", mode, size, date, fi.Name())
}

// listEntries orders directories before files, each group by name.
func listEntries(entries []fs.DirEntry) []fs.FileInfo {
	var dirs, files []fs.FileInfo
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.IsDir() {
			dirs = append(dirs, fi)
		} else {
			files = append(files, fi)
		}
	}
	byName := func(s []fs.FileInfo) {
		sort.Slice(s, func(i, j int) bool { return s[i].Name() < s[j].Name() })
	}
	byName(dirs)
	byName(files)
	return append(dirs, files...)
}
