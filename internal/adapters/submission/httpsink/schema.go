package httpsink

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/bnema/neurobattery/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const fallbackSchema = "submission.json"

var schemaFiles = map[domain.SubtestID]string{
	domain.SubtestAttention:       "attention.json",
	domain.SubtestVerbalImmediate: "recall.json",
	domain.SubtestVerbalDelayed:   "recall.json",
	domain.SubtestVisualMemory:    "drawing.json",
	domain.SubtestVisuospatial:    "drawing.json",
	domain.SubtestExecutive:       "executive.json",
	domain.SubtestFluency:         "fluency.json",
}

// Contracts holds the compiled payload schemas, one per submission kind.
type Contracts struct {
	once    sync.Once
	err     error
	schemas map[string]*jsonschema.Schema
}

func (c *Contracts) load() error {
	c.once.Do(func() {
		entries, err := schemaFS.ReadDir("schemas")
		if err != nil {
			c.err = fmt.Errorf("read embedded schemas: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		for _, entry := range entries {
			name := path.Join("schemas", entry.Name())
			data, err := schemaFS.ReadFile(name)
			if err != nil {
				c.err = fmt.Errorf("read schema %s: %w", entry.Name(), err)
				return
			}
			if err := compiler.AddResource(schemaURL(entry.Name()), bytes.NewReader(data)); err != nil {
				c.err = fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
				return
			}
		}

		c.schemas = make(map[string]*jsonschema.Schema, len(entries))
		for _, entry := range entries {
			schema, err := compiler.Compile(schemaURL(entry.Name()))
			if err != nil {
				c.err = fmt.Errorf("compile schema %s: %w", entry.Name(), err)
				return
			}
			c.schemas[entry.Name()] = schema
		}
	})
	return c.err
}

// Validate checks the JSON encoding of body against the contract of
// subtest. Subtests without a dedicated contract only need an evaluationId.
func (c *Contracts) Validate(subtest domain.SubtestID, body []byte) error {
	if err := c.load(); err != nil {
		return err
	}

	file, ok := schemaFiles[subtest]
	if !ok {
		file = fallbackSchema
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", subtest, err)
	}

	if err := c.schemas[file].Validate(payload); err != nil {
		return fmt.Errorf("validate %s payload: %w: %w", subtest, domain.ErrValidation, err)
	}
	return nil
}

func schemaURL(name string) string {
	return "mem://neurobattery/schemas/" + name
}
