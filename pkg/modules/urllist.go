package modules

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/fetchez/fetchez/pkg/engine"
	"github.com/fetchez/fetchez/pkg/recipe"
)

// URLList resolves a fixed list of URLs into entries. URLs come either
// inline from the `urls` argument or one-per-line from a `file` argument;
// blank lines and #-comments are ignored. The region does not narrow the
// list; a recipe using urllist has already decided what it wants.
type URLList struct {
	urls     []string
	mirrors  map[string][]string
	checksum map[string]string
}

// NewURLList is the module factory for "urllist".
func NewURLList(args map[string]interface{}) (engine.Module, error) {
	m := &URLList{
		mirrors:  map[string][]string{},
		checksum: map[string]string{},
	}

	if raw, ok := args["urls"].([]interface{}); ok {
		for _, v := range raw {
			switch item := v.(type) {
			case string:
				m.urls = append(m.urls, item)
			case map[string]interface{}:
				// Structured form: {url: ..., mirrors: [...], checksum: ...}
				u, _ := item["url"].(string)
				if u == "" {
					return nil, engine.NewPermanentError(
						"urllist entry missing `url`", nil).
						WithCode(engine.ErrCodeConfig)
				}
				m.urls = append(m.urls, u)
				if ms, ok := item["mirrors"].([]interface{}); ok {
					for _, mv := range ms {
						if s, ok := mv.(string); ok {
							m.mirrors[u] = append(m.mirrors[u], s)
						}
					}
				}
				if cs, ok := item["checksum"].(string); ok {
					m.checksum[u] = cs
				}
			default:
				return nil, engine.NewPermanentError(
					fmt.Sprintf("urllist entry has unsupported type %T", v), nil).
					WithCode(engine.ErrCodeConfig)
			}
		}
	}

	if file, ok := args["file"].(string); ok && file != "" {
		urls, err := readURLFile(file)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("reading url list %s", file), err).
				WithCode(engine.ErrCodeDependencyMissing)
		}
		m.urls = append(m.urls, urls...)
	}

	if len(m.urls) == 0 {
		return nil, engine.NewPermanentError(
			"urllist module requires `urls` or `file`", nil).
			WithCode(engine.ErrCodeConfig)
	}
	return m, nil
}

// Name implements engine.Module.
func (m *URLList) Name() string { return "urllist" }

// Resolve implements engine.Module.
func (m *URLList) Resolve(ctx context.Context, _ recipe.Region) ([]*engine.Entry, error) {
	entries := make([]*engine.Entry, 0, len(m.urls))
	for _, raw := range m.urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("invalid url %q", raw), err).
				WithCode(engine.ErrCodeConfig)
		}
		dst := path.Base(u.Path)
		if dst == "" || dst == "." || dst == "/" {
			dst = u.Host
		}
		e := engine.NewEntry(raw, dst)
		e.Mirrors = m.mirrors[raw]
		e.Checksum = m.checksum[raw]
		entries = append(entries, e)
	}
	return entries, nil
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
