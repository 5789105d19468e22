package config

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Lists holds the parsed values of the three list files.
type Lists struct {
	DenyList []string
	Peers    []string
	Words    []string
}

// ParseList reads one entry per line, trimming whitespace and skipping
// blank lines and '#' comments. Lower-casing applies when fold is set.
func ParseList(r io.Reader, fold bool) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fold {
			line = strings.ToLower(line)
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out, sc.Err()
}

// ReadList parses the list file at path. A missing file yields an empty
// list.
func ReadList(path string, fold bool) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseList(f, fold)
}

// LoadLists reads the deny-list, peer list and word list named by cfg.
func LoadLists(cfg ServerConfig) (Lists, error) {
	var (
		l   Lists
		err error
	)
	if l.DenyList, err = ReadList(cfg.DenyListFile, true); err != nil {
		return Lists{}, err
	}
	if l.Peers, err = ReadList(cfg.PeerListFile, false); err != nil {
		return Lists{}, err
	}
	if l.Words, err = ReadList(cfg.WordListFile, true); err != nil {
		return Lists{}, err
	}
	return l, nil
}
