package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mwantia/datenest/pkg/digest"
	"github.com/mwantia/datenest/pkg/errdefs"
)

// CSVFile is a CSV candidate found next to an image.
type CSVFile struct {
	Path    string
	Name    string
	ModTime time.Time
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// MatchCSV picks the CSV files that belong to the image with the given
// stem. Rules are tried in order and the first one with candidates wins:
//
//  1. <stem>.csv
//  2. the only CSV file in the directory
//  3. <stem>_*.csv, reduced to the one closest in modification time
//
// Ties in rule 3 fall back to name order.
func MatchCSV(stem string, modTime time.Time, csvs []CSVFile) []CSVFile {
	var exact []CSVFile
	for _, c := range csvs {
		if strings.TrimSuffix(c.Name, filepath.Ext(c.Name)) == stem {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		sortByName(exact)
		return exact
	}

	if len(csvs) == 1 {
		return []CSVFile{csvs[0]}
	}

	var prefixed []CSVFile
	for _, c := range csvs {
		if strings.HasPrefix(c.Name, stem+"_") {
			prefixed = append(prefixed, c)
		}
	}
	if len(prefixed) == 0 {
		return nil
	}

	sortByName(prefixed)
	sort.SliceStable(prefixed, func(i, j int) bool {
		return distance(prefixed[i].ModTime, modTime) < distance(prefixed[j].ModTime, modTime)
	})
	return prefixed[:1]
}

func sortByName(files []CSVFile) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
}

func distance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// dirCache memoises directory listings and CSV digests for one scan, so a
// directory of many images is listed and its CSV files hashed once.
type dirCache struct {
	listings map[string][]CSVFile
	digests  map[string]string
}

func newDirCache() *dirCache {
	return &dirCache{
		listings: make(map[string][]CSVFile),
		digests:  make(map[string]string),
	}
}

func (c *dirCache) list(dir string) ([]CSVFile, error) {
	if files, ok := c.listings[dir]; ok {
		return files, nil
	}

	files, err := ListCSV(dir)
	if err != nil {
		return nil, err
	}
	c.listings[dir] = files
	return files, nil
}

func (c *dirCache) digest(path string) (string, error) {
	if sum, ok := c.digests[path]; ok {
		return sum, nil
	}

	sum, err := digest.File(path)
	if err != nil {
		return "", err
	}
	c.digests[path] = sum
	return sum, nil
}

// ListCSV returns the regular CSV files directly inside dir.
func ListCSV(dir string) ([]CSVFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIOFailure, err)
	}

	var files []CSVFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isCSV(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, CSVFile{
			Path:    filepath.Join(dir, entry.Name()),
			Name:    entry.Name(),
			ModTime: info.ModTime().UTC(),
		})
	}
	return files, nil
}
