package models

import "testing"

func TestValidArtifactType(t *testing.T) {
	for _, typ := range []ArtifactType{ArtifactText, ArtifactJSON, ArtifactCSV, ArtifactHTML, ArtifactMarkdown} {
		if !ValidArtifactType(typ) {
			t.Errorf("type %q rejected", typ)
		}
	}
	for _, typ := range []ArtifactType{"", "binary", "TEXT", "md"} {
		if ValidArtifactType(typ) {
			t.Errorf("type %q accepted", typ)
		}
	}
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if u.PromptTokens != 11 || u.CompletionTokens != 7 || u.TotalTokens != 18 {
		t.Errorf("usage = %+v", u)
	}
}
