// Package i18n holds the zh-CN and en-US message catalogs and resolves the
// language of a request.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

const (
	// LangParam query parameter selecting a language
	LangParam = "lang"
	// LocaleCookie is the cookie the web front end stores its locale in.
	LocaleCookie = "NEXT_LOCALE"
	// LangCookie fallback cookie name
	LangCookie = "lang"
)

var (
	ZhCN = language.MustParse("zh-CN")
	EnUS = language.MustParse("en-US")

	supported = []language.Tag{ZhCN, EnUS}
	matcher   = language.NewMatcher(supported)
)

//go:embed locales/*.yaml
var localesFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

func init() {
	if err := register(localesFS); err != nil {
		panic(fmt.Sprintf("i18n: %v", err))
	}
}

func loadCatalogs(fsys fs.FS) (map[language.Tag]map[string]string, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locales: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no locale catalogs found")
	}
	sort.Strings(paths)

	out := make(map[language.Tag]map[string]string, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var cf catalogFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		tag, err := language.Parse(cf.Locale)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q in %s: %w", cf.Locale, p, err)
		}
		out[tag] = cf.Messages
	}
	return out, nil
}

func register(fsys fs.FS) error {
	catalogs, err := loadCatalogs(fsys)
	if err != nil {
		return err
	}
	for tag, msgs := range catalogs {
		for key, msg := range msgs {
			if err := message.SetString(tag, key, msg); err != nil {
				return fmt.Errorf("register %s/%s: %w", tag, key, err)
			}
		}
	}
	return nil
}

// Default is the language used when nothing in the request matches.
func Default() language.Tag {
	return ZhCN
}

// Supported lists the served languages, default first.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Match maps value onto a supported tag.
func Match(value string) (language.Tag, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Default(), false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return Default(), false
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Default(), false
	}
	return supported[idx], true
}

// Resolve picks the request language from the lang query parameter, the
// locale cookies, then Accept-Language.
func Resolve(r *http.Request) language.Tag {
	if r == nil {
		return Default()
	}
	if tag, ok := Match(r.URL.Query().Get(LangParam)); ok {
		return tag
	}
	for _, name := range []string{LocaleCookie, LangCookie} {
		if c, err := r.Cookie(name); err == nil {
			if tag, ok := Match(c.Value); ok {
				return tag
			}
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return supported[idx]
			}
		}
	}
	return Default()
}

// Printer returns a printer bound to tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// T translates key for tag.
func T(tag language.Tag, key string, args ...any) string {
	return message.NewPrinter(tag).Sprintf(key, args...)
}
