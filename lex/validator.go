package lex

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/skystream/errors"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const defsFile = "schemas/defs.json"

// schemaFiles maps a record NSID or message definition to its schema.
var schemaFiles = map[string]string{
	FeedPost:                "schemas/app.bsky.feed.post.json",
	FeedRepost:              "schemas/app.bsky.feed.repost.json",
	FeedLike:                "schemas/app.bsky.feed.like.json",
	GraphFollow:             "schemas/app.bsky.graph.follow.json",
	SubscribeReposCommit:    "schemas/com.atproto.sync.subscribeRepos.commit.json",
	SubscribeReposIdentity:  "schemas/com.atproto.sync.subscribeRepos.identity.json",
	SubscribeReposAccount:   "schemas/com.atproto.sync.subscribeRepos.account.json",
	SubscribeReposSync:      "schemas/com.atproto.sync.subscribeRepos.sync.json",
	SubscribeReposHandle:    "schemas/com.atproto.sync.subscribeRepos.handle.json",
	SubscribeReposTombstone: "schemas/com.atproto.sync.subscribeRepos.tombstone.json",
	SubscribeReposInfo:      "schemas/com.atproto.sync.subscribeRepos.info.json",
}

// Validator checks lexicon JSON documents against the compiled schemas.
// It is safe for concurrent use.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every embedded schema.
func NewValidator() (*Validator, error) {
	defs, err := schemaFS.ReadFile(defsFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "lex", "NewValidator", "read shared definitions")
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemaFiles))}
	for id, file := range schemaFiles {
		raw, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, errors.WrapFatal(err, "lex", "NewValidator", "read schema "+id)
		}

		loader := gojsonschema.NewSchemaLoader()
		loader.Draft = gojsonschema.Draft7
		if err := loader.AddSchemas(gojsonschema.NewBytesLoader(defs)); err != nil {
			return nil, errors.WrapFatal(err, "lex", "NewValidator", "load shared definitions")
		}
		schema, err := loader.Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, errors.WrapFatal(err, "lex", "NewValidator", "compile schema "+id)
		}
		v.schemas[id] = schema
	}
	return v, nil
}

var defaultValidator = sync.OnceValue(func() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
})

// Default returns a process-wide validator compiled on first use.
func Default() *Validator {
	return defaultValidator()
}

// Has reports whether a schema is known for id.
func (v *Validator) Has(id string) bool {
	_, ok := v.schemas[id]
	return ok
}

// IDs returns the known schema ids, sorted.
func (v *Validator) IDs() []string {
	ids := make([]string, 0, len(v.schemas))
	for id := range v.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks doc, a value in lexicon JSON form, against the schema for id.
// Every failure is an invalid-class error wrapping ErrSchemaViolation.
func (v *Validator) Validate(id string, doc any) error {
	schema, ok := v.schemas[id]
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: no schema for %q", errors.ErrSchemaViolation, id),
			"lex", "Validate", "lookup schema")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrSchemaViolation, err),
			"lex", "Validate", "load document")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrSchemaViolation, strings.Join(msgs, "; ")),
		"lex", "Validate", id)
}
