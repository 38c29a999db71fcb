// Package i18n resolves the user-facing strings declared with notification
// categories.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/pushhand/pushhand/internal/logging"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// DefaultLocale is used when the requested locale has no catalog.
const DefaultLocale = "en"

// Catalog maps translation keys to strings for one locale. Missing keys fall
// back to the default locale and then to the key itself.
type Catalog struct {
	tag      language.Tag
	messages map[string]string
	fallback map[string]string
}

// Available lists the locales with an embedded catalog.
func Available() ([]language.Tag, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	tags := make([]language.Tag, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("locale file %s: %w", e.Name(), err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// New returns the catalog that best matches locale, e.g. "pt_BR" or "es-MX".
func New(locale string) (*Catalog, error) {
	tags, err := Available()
	if err != nil {
		return nil, err
	}
	// default first so the matcher falls back to it
	ordered := []language.Tag{language.MustParse(DefaultLocale)}
	for _, t := range tags {
		if t != ordered[0] {
			ordered = append(ordered, t)
		}
	}

	want, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(locale, "_", "-"))
	if err != nil || len(want) == 0 {
		want = []language.Tag{ordered[0]}
	}
	_, idx, conf := language.NewMatcher(ordered).Match(want...)
	tag := ordered[idx]
	if conf == language.No {
		tag = ordered[0]
	}

	fallback, err := load(ordered[0])
	if err != nil {
		return nil, err
	}
	messages := fallback
	if tag != ordered[0] {
		if messages, err = load(tag); err != nil {
			return nil, err
		}
	}
	logging.Get().Debug().Str("requested", locale).Str("locale", tag.String()).Msg("localization catalog selected")
	return &Catalog{tag: tag, messages: messages, fallback: fallback}, nil
}

func load(tag language.Tag) (map[string]string, error) {
	b, err := localeFS.ReadFile("locales/" + tag.String() + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", tag, err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", tag, err)
	}
	return m, nil
}

// Locale returns the tag of the selected catalog.
func (c *Catalog) Locale() language.Tag { return c.tag }

// T returns the localized string for key.
func (c *Catalog) T(key string) string {
	if v, ok := c.messages[key]; ok && v != "" {
		return v
	}
	if v, ok := c.fallback[key]; ok && v != "" {
		return v
	}
	return key
}
