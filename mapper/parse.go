package mapper

import (
	"fmt"
	"strconv"
	"strings"
)

// CompositeEntry locates one package stored inside a composite bundle.
type CompositeEntry struct {
	Package    string
	FileName   string
	ObjectPath string
	Offset     uint64
	Size       uint64
}

// ParsePairs parses "key,value|key,value|" records. Text after the final
// '|' is ignored. The first occurrence of a key wins.
func ParsePairs(text, table string) (map[string]string, error) {
	out := make(map[string]string)
	prev := 0
	for {
		end := strings.IndexByte(text[prev:], '|')
		if end < 0 {
			return out, nil
		}
		end += prev
		record := text[prev:end]
		sep := strings.IndexByte(record, ',')
		if sep < 0 {
			return nil, fmt.Errorf("%w: %s record at %d has no separator", ErrCorrupt, table, prev)
		}
		key, value := record[:sep], record[sep+1:]
		if _, ok := out[key]; !ok {
			out[key] = value
		}
		prev = end + 1
	}
}

// ParseComposite parses composite groups of the form
//
//	!fileName?path,package,offset,size,|path,package,offset,size,|!
//
// keyed by package name.
func ParseComposite(text string) (map[string]CompositeEntry, error) {
	out := make(map[string]CompositeEntry)
	for _, group := range strings.Split(text, "!") {
		if strings.TrimSpace(group) == "" {
			continue
		}
		q := strings.IndexByte(group, '?')
		if q < 0 {
			return nil, fmt.Errorf("%w: composite group %.32q has no '?'", ErrCorrupt, group)
		}
		fileName := group[:q]
		for _, record := range strings.Split(group[q+1:], "|") {
			if strings.TrimSpace(record) == "" {
				continue
			}
			entry, err := parseCompositeRecord(fileName, record)
			if err != nil {
				return nil, err
			}
			out[entry.Package] = entry
		}
	}
	return out, nil
}

func parseCompositeRecord(fileName, record string) (CompositeEntry, error) {
	fields := strings.Split(record, ",")
	if len(fields) < 4 {
		return CompositeEntry{}, fmt.Errorf("%w: composite record %.32q has %d fields", ErrCorrupt, record, len(fields))
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return CompositeEntry{}, fmt.Errorf("%w: composite offset %q: %w", ErrCorrupt, fields[2], err)
	}
	size, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return CompositeEntry{}, fmt.Errorf("%w: composite size %q: %w", ErrCorrupt, fields[3], err)
	}
	return CompositeEntry{
		Package:    fields[1],
		FileName:   fileName,
		ObjectPath: fields[0],
		Offset:     offset,
		Size:       size,
	}, nil
}

// FormatPairs renders a table in the layout read by ParsePairs.
func FormatPairs(pairs map[string]string) string {
	var b strings.Builder
	for _, k := range sortedKeys(pairs) {
		b.WriteString(k)
		b.WriteByte(',')
		b.WriteString(pairs[k])
		b.WriteByte('|')
	}
	return b.String()
}

// FormatComposite renders entries in the layout read by ParseComposite.
func FormatComposite(entries map[string]CompositeEntry) string {
	byFile := make(map[string][]CompositeEntry)
	for _, e := range entries {
		byFile[e.FileName] = append(byFile[e.FileName], e)
	}
	var b strings.Builder
	for _, file := range sortedKeys(byFile) {
		b.WriteByte('!')
		b.WriteString(file)
		b.WriteByte('?')
		group := byFile[file]
		sortEntries(group)
		for _, e := range group {
			fmt.Fprintf(&b, "%s,%s,%d,%d,|", e.ObjectPath, e.Package, e.Offset, e.Size)
		}
	}
	b.WriteByte('!')
	return b.String()
}
