package llm

import "testing"

func TestFamilyForModel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  Family
	}{
		{"gpt-4", FamilyOpenAI},
		{"GPT-4o-mini", FamilyOpenAI},
		{"chatgpt-4o-latest", FamilyOpenAI},
		{"o1-preview", FamilyOpenAI},
		{"text-davinci-003", FamilyOpenAI},
		{"llama3:8b", FamilyOllama},
		{"Mistral-7B", FamilyOllama},
		{"gemma2", FamilyOllama},
		{"qwen2.5-coder", FamilyOllama},
		{"phi3", FamilyOllama},
		{"  llama2  ", FamilyOllama},
		// Unrecognized names degrade to the default, never an error.
		{"my-custom-model", FamilyOpenAI},
		{"", FamilyOpenAI},
	}

	for _, tc := range cases {
		if got := FamilyForModel(tc.model, FamilyOpenAI); got != tc.want {
			t.Errorf("FamilyForModel(%q) = %s, want %s", tc.model, got, tc.want)
		}
	}
}

func TestFamilyForModelFallback(t *testing.T) {
	t.Parallel()

	if got := FamilyForModel("unknown-thing", FamilyOllama); got != FamilyOllama {
		t.Fatalf("fallback ignored: got %s", got)
	}
}
