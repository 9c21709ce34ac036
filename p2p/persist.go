package p2p

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// persistedColors are the books written to and read from the TSV file.
// Black is never persisted (spec.md §4.2 "Persistence format").
var persistedColors = []Color{Gold, White, Grey, Dark}

// SaveAll writes every persisted book to path as
// "color<TAB>url<TAB>last_seen\n" lines, creating parent directories as
// needed and restricting the file to owner-only permissions on POSIX.
func (c *Container) SaveAll(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("p2p: create hosts dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("p2p: open hosts file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, color := range persistedColors {
		for _, e := range c.FetchAll(color) {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%d\n", color, e.Addr, e.LastSeen); err != nil {
				return fmt.Errorf("p2p: write hosts file %s: %w", path, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("p2p: flush hosts file %s: %w", path, err)
	}
	return nil
}

// LoadAll reads path into the container, sorting and resizing every
// touched book, then sweeping Dark of entries older than 86400s. Corrupt
// lines are skipped with a warning rather than aborting the load. A
// missing file is not an error: it is treated as an empty book set.
func (c *Container) LoadAll(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("p2p: open hosts file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	touched := make(map[Color]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			logrus.Warnf("p2p: skipping malformed hosts line: %q", line)
			continue
		}
		color, err := ParseColor(fields[0])
		if err != nil {
			logrus.Warnf("p2p: skipping hosts line with bad color: %v", err)
			continue
		}
		addr, err := ParseAddress(fields[1])
		if err != nil {
			logrus.Warnf("p2p: skipping hosts line with bad address: %v", err)
			continue
		}
		lastSeen, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			logrus.Warnf("p2p: skipping hosts line with bad timestamp: %v", err)
			continue
		}
		c.Store(color, addr, lastSeen)
		touched[color] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("p2p: scan hosts file %s: %w", path, err)
	}

	for color := range touched {
		c.SortByLastSeen(color)
		c.Resize(color)
	}
	c.Refresh(Dark, darkMaxAge, time.Now().Unix())
	return nil
}
