package pipeline_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"comfyforge/internal/pipeline"
	"comfyforge/internal/services"
)

func TestParseDefinitionYAML(t *testing.T) {
	doc := `
name: heroine
pipeline:
  - step: llm
    provider: grok
    input: describe a cyberpunk heroine
    output_var: character_desc
  - provider: openai
    model: "[IMAGE] dall-e-3"
    prompt: "{character_desc}"
    temperature: 0.2
    seed: 7
    extra_params:
      size: 1024x1024
    tags: [hd]
    strategy: cost
key_overrides:
  grok: sk-manual
`
	def, err := pipeline.ParseDefinition([]byte(doc), "yaml")
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if def.Name != "heroine" || len(def.Steps) != 2 || def.KeyOverrides["grok"] != "sk-manual" {
		t.Fatalf("unexpected definition %+v", def)
	}
	first, second := def.Steps[0], def.Steps[1]
	if first.OutputName() != "character_desc" || first.ModelName() != "default" || first.TemperatureValue() != 0.7 || first.SeedValue() != 42 {
		t.Fatalf("unexpected first step %+v", first)
	}
	if second.Step != "step_2" || second.OutputName() != "step_2" {
		t.Fatalf("default step name not applied: %+v", second)
	}
	if second.TemperatureValue() != 0.2 || second.SeedValue() != 7 || second.ExtraParams["size"] != "1024x1024" {
		t.Fatalf("unexpected second step %+v", second)
	}
	if len(second.Tags) != 1 || second.Strategy != "cost" {
		t.Fatalf("routing fields not parsed: %+v", second)
	}
}

func TestParseDefinitionJSONList(t *testing.T) {
	doc := `[{"step":"a","provider":"Gemini","prompt":"hi"},{"step":"b","provider":"Qwen","image":"{a}"}]`
	def, err := pipeline.ParseDefinition([]byte(doc), "json")
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if len(def.Steps) != 2 || def.Steps[1].Image != "{a}" {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestParseDefinitionRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no steps":    "name: nothing\n",
		"no provider": "pipeline:\n  - step: x\n    prompt: hi\n",
		"bad yaml":    "pipeline: [",
	}
	for name, doc := range cases {
		if _, err := pipeline.ParseDefinition([]byte(doc), "yaml"); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestLoadDefinitionByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	if err := os.WriteFile(path, []byte(`{"pipeline":[{"provider":"Grok","text":"hi"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	def, err := pipeline.LoadDefinition(path)
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if len(def.Steps) != 1 || def.Steps[0].Text != "hi" {
		t.Fatalf("unexpected definition %+v", def)
	}
}
