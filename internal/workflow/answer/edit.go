package answer

import "regexp"

// EditKind classifies a free-text edit command so the edit prompt can carry
// a targeted instruction
type EditKind string

const (
	EditReplace  EditKind = "replace"
	EditRephrase EditKind = "rephrase"
	EditAdd      EditKind = "add"
	EditDelete   EditKind = "delete"
	EditReorder  EditKind = "reorder"
	EditCombine  EditKind = "combine"
	EditGeneral  EditKind = "general"
)

// Ordered: the first matching pattern wins, so more specific intents come
// before loose ones.
var editPatterns = []struct {
	kind    EditKind
	pattern *regexp.Regexp
}{
	{EditReorder, regexp.MustCompile(`(?i)\b(reorder|rearrange|swap the order|switch the order)\b|\bmove\b`)},
	{EditReplace, regexp.MustCompile(`(?i)\b(replace|substitute|swap)\b|\bchange\b.*\bto\b`)},
	{EditRephrase, regexp.MustCompile(`(?i)\b(rephrase|reword|rewrite|restate|say it differently)\b`)},
	{EditDelete, regexp.MustCompile(`(?i)\b(delete|remove|drop|cut|take out|get rid of)\b`)},
	{EditCombine, regexp.MustCompile(`(?i)\b(combine|merge|join|connect)\b`)},
	{EditAdd, regexp.MustCompile(`(?i)\b(add|insert|include|append|mention)\b`)},
}

// editInstructions maps each kind to the constraint added to the edit prompt
var editInstructions = map[EditKind]string{
	EditReplace:  "Replace only the wording the student named; leave every other sentence untouched.",
	EditRephrase: "Rephrase only the part the student named, preserving its meaning exactly.",
	EditAdd:      "Add only what the student asked for, drawn from their original transcript; do not invent facts.",
	EditDelete:   "Delete only what the student named; do not rewrite the surrounding text.",
	EditReorder:  "Reorder the named parts without changing any wording.",
	EditCombine:  "Combine the named sentences smoothly without adding new information.",
	EditGeneral:  "Apply the student's instruction with the smallest possible change.",
}

// ParseEditKind classifies an edit command
func ParseEditKind(command string) EditKind {
	for _, p := range editPatterns {
		if p.pattern.MatchString(command) {
			return p.kind
		}
	}
	return EditGeneral
}
