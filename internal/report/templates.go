package report

// SectionTemplate drives one streamed LLM section.
type SectionTemplate struct {
	Title  string
	Prompt string
}

// TemplateSet is an ordered list of section templates. Sections are
// always generated and emitted in template order.
type TemplateSet struct {
	ID       string
	Name     string
	Sections []SectionTemplate
}

// DefaultTemplateID is used when a report does not name a template.
const DefaultTemplateID = "analyst_brief"

var templateSets = map[string]TemplateSet{
	"analyst_brief": {
		ID:   "analyst_brief",
		Name: "Analyst brief",
		Sections: []SectionTemplate{
			{
				Title:  "Executive Summary",
				Prompt: "Write a concise executive summary of the period. Lead with the two or three developments that matter most and why. Cite sources inline using [n] markers matching the numbered article list.",
			},
			{
				Title:  "Key Events",
				Prompt: "Describe each major event in its own short paragraph, ordered by importance. State what happened, who is involved and what changed. Cite sources inline using [n] markers.",
			},
			{
				Title:  "Analysis and Outlook",
				Prompt: "Analyze the common threads across the events and what they suggest for the near term. Flag open questions explicitly. Cite sources inline using [n] markers.",
			},
		},
	},
	"daily_digest": {
		ID:   "daily_digest",
		Name: "Daily digest",
		Sections: []SectionTemplate{
			{
				Title:  "Today's Headlines",
				Prompt: "Summarize each event in one or two sentences, most important first. Cite sources inline using [n] markers.",
			},
			{
				Title:  "Worth Watching",
				Prompt: "List developing stories that have not peaked yet and say what signal to watch for. Cite sources inline using [n] markers.",
			},
		},
	},
}

// TemplateByID resolves a template set, falling back to the default for
// empty or unknown ids.
func TemplateByID(id string) TemplateSet {
	if set, ok := templateSets[id]; ok {
		return set
	}
	return templateSets[DefaultTemplateID]
}

// Templates lists the available sets in a stable order.
func Templates() []TemplateSet {
	return []TemplateSet{templateSets["analyst_brief"], templateSets["daily_digest"]}
}
