package services

import (
	"fmt"
	"strings"

	"github.com/caseflow/backend/internal/models"
)

// structuredOutputContract tells the model how to emit machine-readable
// deltas. Both handlers append this to their instructions so responses can
// carry theory_update / insights blocks the extractor understands.
const structuredOutputContract = `
When your analysis changes the working case theory or surfaces new findings,
append a fenced json block to your reply in this exact shape:

` + "```json" + `
{
  "theory_update": {
    "fact_patterns": ["..."],
    "legal_arguments": ["..."],
    "potential_outcomes": ["..."],
    "status": "draft"
  },
  "insights": [
    {
      "title": "...",
      "description": "...",
      "insight_type": "key_fact|risk_assessment|outcome_trend|general",
      "relevant_file_ids": []
    }
  ]
}
` + "```" + `

Both keys are optional; omit the block entirely when there is nothing
structured to report. Never emit more than one fenced json block.`

func buildSystemInstruction(kase *models.Case) string {
	instruction := strings.TrimSpace(kase.SystemInstruction)
	if instruction == "" {
		instruction = "You are an expert family-law evidence analyst reviewing uploaded case documents."
	}

	var b strings.Builder
	b.WriteString(instruction)
	if kase.CaseGoals != "" {
		fmt.Fprintf(&b, "\n\nCASE GOALS:\n%s", kase.CaseGoals)
	}
	b.WriteString("\n")
	b.WriteString(structuredOutputContract)
	return b.String()
}

func buildFileAnalysisPrompt(file *models.CaseFileMetadata, contentSample string) string {
	prompt := fmt.Sprintf(`You are organizing evidence for a family-law case. Analyze this file and return ONLY a json object, no markdown, no extra text.

FILE NAME: %s

CONTENT SAMPLE:
%s

Return exactly:
{
  "suggested_name": "a clear descriptive file name",
  "description": "2-3 sentence summary of what this document contains and why it matters",
  "tags": ["tag1", "tag2"],
  "file_category": "Financial|Communication|Legal Filing|Medical|Custody|Property|Other"
}`, file.FileName, contentSample)
	return prompt
}

func buildWebSearchPrompt(query string, resultsJSON string) string {
	return fmt.Sprintf(`A web search was run on behalf of the case team.

QUERY: %s

RESULTS (json):
%s

Summarize what these results mean for the case and flag anything the team should follow up on.`, query, resultsJSON)
}

func buildTimelinePrompt(timelineName, focus string, fileSummaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are building the "%s" timeline for a family-law case from evidence summaries.

`, timelineName)
	if focus != "" {
		fmt.Fprintf(&b, "FOCUS: %s\n\n", focus)
	}
	b.WriteString("EVIDENCE:\n")
	for _, s := range fileSummaries {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString(`
Extract up to 100 dated events. Return ONLY a json array, no markdown:
[
  {
    "event_date": "YYYY-MM-DD or best available precision",
    "title": "short event title",
    "description": "what happened, citing the evidence",
    "source_files": ["file name(s) this came from"]
  }
]
Order events chronologically. Output valid JSON only.`)
	return b.String()
}

// BuildGraphSummaryPrompt frames a graph text rendering for model
// review. Exported because the graph endpoint feeds it through the
// dispatcher rather than a service-internal path.
func BuildGraphSummaryPrompt(summary string) string {
	return fmt.Sprintf(`Below is a textual summary of the knowledge graph extracted from this case's evidence.

%s

Review the graph for patterns relevant to the case goals: repeated contacts, financial flows, custody-related events. Report anything notable.`, summary)
}
