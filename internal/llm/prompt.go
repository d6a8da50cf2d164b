package llm

import (
	"encoding/json"
	"strings"
)

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You summarize job descriptions into structured JSON for a recruitment search index. ")
	b.WriteString("Return ONLY a JSON object matching the provided schema. ")
	b.WriteString("Do not invent facts absent from the posting; omit optional fields you cannot support.\n\n")

	if len(req.PositionCandidates) > 0 {
		b.WriteString("Choose position_name from this taxonomy when one fits:\n")
		b.WriteString(strings.Join(req.PositionCandidates, ", "))
		b.WriteString("\n\n")
	}

	schema, _ := json.Marshal(BuildSummarySchema())
	b.WriteString("JSON Schema:\n")
	b.Write(schema)
	return b.String()
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.BrandHint != "" {
		b.WriteString("Brand hint: " + req.BrandHint + "\n")
	}
	if req.PositionHint != "" {
		b.WriteString("Position hint: " + req.PositionHint + "\n")
	}
	if len(req.Skills) > 0 {
		b.WriteString("Extracted skills: " + strings.Join(req.Skills, ", ") + "\n")
	}
	b.WriteString("\nJob description:\n")
	b.WriteString(req.CanonicalText)
	return b.String()
}
