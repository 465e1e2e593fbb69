// Package locale holds the user-facing strings the server itself produces.
package locale

import (
	_ "embed"
	"fmt"
	"sort"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales.yaml
var bundled []byte

const (
	KeyUnsavedEntry = "unsaved_entry"
	KeyEntrySaved   = "entry_saved"
	KeyTimerReset   = "timer_reset"
)

type Catalog struct {
	messages map[string]map[string]string
	fallback string
	matcher  language.Matcher
	langs    []string
}

// Load parses the bundled table. fallback must be one of its languages.
func Load(fallback string) (*Catalog, error) {
	return Parse(bundled, fallback)
}

func Parse(data []byte, fallback string) (*Catalog, error) {
	var messages map[string]map[string]string
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse locale table: %w", err)
	}
	if _, ok := messages[fallback]; !ok {
		return nil, fmt.Errorf("default locale %q is not in the locale table", fallback)
	}

	// The matcher falls back to its first tag, so the default goes first.
	langs := []string{fallback}
	for lang := range messages {
		if lang != fallback {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs[1:])

	tags := make([]language.Tag, 0, len(langs))
	for _, lang := range langs {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("locale %q: %w", lang, err)
		}
		tags = append(tags, tag)
	}

	return &Catalog{
		messages: messages,
		fallback: fallback,
		matcher:  language.NewMatcher(tags),
		langs:    langs,
	}, nil
}

// Pick returns the supported language that best serves an Accept-Language
// header value.
func (c *Catalog) Pick(acceptLanguage string) string {
	if acceptLanguage == "" {
		return c.fallback
	}
	_, index, confidence := c.matcher.Match(parseAccept(acceptLanguage)...)
	if confidence == language.No {
		return c.fallback
	}
	return c.langs[index]
}

// Text looks key up for lang, falling back to the default language and then
// to the key itself.
func (c *Catalog) Text(lang, key string) string {
	if msg, ok := c.messages[lang][key]; ok {
		return msg
	}
	if msg, ok := c.messages[c.fallback][key]; ok {
		return msg
	}
	return key
}

func (c *Catalog) UnsavedEntry(lang string) string {
	return c.Text(lang, KeyUnsavedEntry)
}

func parseAccept(header string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	return tags
}
