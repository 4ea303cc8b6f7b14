package prompts

import "strings"

// Template names. Config may override any of these by name.
const (
	Synopsis        = "synopsis"
	Discussion      = "discussion"
	ContentWarnings = "content-warnings"
	Recommendations = "recommendations"
	ExtractTitles   = "extract-titles"
	ExtractSystem   = "extract-system"
	System          = "system"
)

var defaults = map[string]string{
	System: "You are a well-read literary assistant for a book club Discord server. " +
		"Write in clear, friendly prose. Do not use markdown headings.",

	Synopsis: "Write a spoiler-light synopsis of the book \"{title}\". " +
		"Cover the premise, the main characters, and what kind of reader would enjoy it. " +
		"Look up the book if you are not certain which work is meant. " +
		"Keep it under 400 words.",

	Discussion: "Write a set of 6-8 book club discussion questions for \"{title}\". " +
		"Mix plot, character, and thematic questions. Avoid spoilers in the first three questions. " +
		"Number the questions.",

	ContentWarnings: "List the content warnings a reader might want before starting \"{title}\". " +
		"Group them by severity and keep descriptions brief and non-graphic. " +
		"If the book has no notable content concerns, say so.",

	Recommendations: "Recommend {count} books for a reader who enjoyed {basedOn}. " +
		"For each, give the title, author, and one or two sentences on why it fits.{context}",

	ExtractSystem: "You extract book titles from chat messages. " +
		"Respond with a JSON array of title strings and nothing else. " +
		"If no book titles are mentioned, respond with [].",

	ExtractTitles: "Extract the book titles mentioned in this message:\n\n{text}",
}

// Lookup resolves a template override by name; nil means defaults only.
type Lookup func(name string) (string, bool)

// Render substitutes {var} placeholders into the named template.
func Render(name string, vars map[string]string, override Lookup) string {
	tmpl, ok := defaults[name]
	if override != nil {
		if t, found := override(name); found && strings.TrimSpace(t) != "" {
			tmpl = t
			ok = true
		}
	}
	if !ok {
		return ""
	}
	for k, v := range vars {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", v)
	}
	return tmpl
}
