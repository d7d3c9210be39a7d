package models

import (
	"fmt"
	"strings"
)

// Entry is one model advertised by the gateway. The namespace prefix of ID
// ("bedrock/...") selects the backend that serves it.
type Entry struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"name" yaml:"name"`
}

// Namespace returns the part of ID before the first "/", or "" when ID has no
// namespace.
func (e Entry) Namespace() string {
	ns, _, ok := strings.Cut(e.ID, "/")
	if !ok {
		return ""
	}
	return ns
}

// Name returns DisplayName, falling back to ID.
func (e Entry) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.ID
}

// DefaultEntries returns the built-in catalog.
func DefaultEntries() []Entry {
	return []Entry{
		{ID: "openai/gpt-4o", DisplayName: "openai/gpt-4o"},
		{ID: "openai/gpt-4o-mini", DisplayName: "openai/gpt-4o-mini"},
		{ID: "bedrock/us.anthropic.claude-3-haiku-20240307-v1:0", DisplayName: "bedrock/claude-3-haiku"},
		{ID: "bedrock/us.anthropic.claude-3-5-sonnet-20240620-v1:0", DisplayName: "bedrock/claude-3-5-sonnet"},
		{ID: "bedrock/us.meta.llama3-2-11b-instruct-v1:0", DisplayName: "bedrock/llama3.2-11b"},
		{ID: "bedrock/us.meta.llama3-2-1b-instruct-v1:0", DisplayName: "bedrock/llama3.2-1b"},
		{ID: "bedrock/us.meta.llama3-2-3b-instruct-v1:0", DisplayName: "bedrock/llama3.2-3b"},
		{ID: "bedrock/us.meta.llama3-2-90b-instruct-v1:0", DisplayName: "bedrock/llama3.2-90b"},
		{ID: "vertex/gemini-1.5-flash-002", DisplayName: "vertex/gemini-1.5-flash"},
		{ID: "vertex/gemini-1.5-pro-002", DisplayName: "vertex/gemini-1.5-pro"},
	}
}

// Catalog is the fixed model list served for the life of the process.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// NewCatalog validates entries and freezes them. An empty list yields the
// built-in catalog.
func NewCatalog(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		entries = DefaultEntries()
	}
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, fmt.Errorf("catalog entry with empty id")
		}
		if e.Namespace() == "" {
			return nil, fmt.Errorf("catalog entry %q has no namespace prefix", e.ID)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.ID)
		}
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Entries returns a copy of the catalog in declaration order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds an entry by its full namespaced id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Len reports the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
