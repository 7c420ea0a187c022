package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxLineBytes bounds a single JSONL line.
const MaxLineBytes = 4 * 1024 * 1024

// ReadDir parses every file under dir matching opts.Include, in lexical path
// order. Unreadable or invalid files become failures named by their relative
// path; only a failure to walk the directory itself is returned as an error.
func ReadDir(ctx context.Context, dir string, opts Options) (*Batch, error) {
	include := opts.Include
	if len(include) == 0 {
		include = []string{"**/*.json"}
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if matchAny(include, filepath.ToSlash(rel)) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	batch := &Batch{}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		rec, err := ParseArticle(data, opts)
		if err != nil {
			batch.fail(rel, err)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, nil
}

// ReadJSONL parses one article per line. Blank lines are skipped and invalid
// lines become failures named "line N".
func ReadJSONL(ctx context.Context, r io.Reader, opts Options) (*Batch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)

	batch := &Batch{}
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := ParseArticle(line, opts)
		if err != nil {
			batch.fail(fmt.Sprintf("line %d", lineNum), err)
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return batch, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
