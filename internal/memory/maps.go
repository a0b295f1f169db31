package memory

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseMaps parses the /proc/<pid>/maps format into sorted segments.
// Lines that do not parse are skipped.
func ParseMaps(r io.Reader) (Segments, error) {
	var segs Segments
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		seg, ok := parseMapsLine(sc.Text())
		if !ok {
			continue
		}
		segs = append(segs, seg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan maps: %w", err)
	}
	sort.Sort(segs)
	return segs, nil
}

// parseMapsLine parses "start-end perms offset dev inode [path]".
func parseMapsLine(line string) (Segment, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Segment{}, false
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Segment{}, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return Segment{}, false
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil || end <= start {
		return Segment{}, false
	}
	var name string
	if len(fields) >= 6 {
		name = strings.Join(fields[5:], " ")
	}
	return Segment{Addr: start, Size: end - start, Perm: fields[1], Name: name}, true
}
