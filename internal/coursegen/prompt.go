package coursegen

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an instructional designer who writes complete, accurate training courses.
Every multiple-choice item has exactly four options and its answer is copied verbatim from one of them.`

const shapeHint = `{
  "title": string,
  "description": string,
  "lessons": [{"title": string, "content": string, "quiz": [{"stem": string, "options": [4 strings], "answer": string}]}],
  "questions": [{"stem": string, "options": [4 strings], "answer": string, "difficulty": "Beginner"|"Intermediate"|"Expert"}],
  "essays": [{"prompt": string, "rubric": string}]
}`

func buildPrompt(p Params) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s level course on %q.\n", p.Difficulty, p.Topic)
	if s := strings.TrimSpace(p.Syllabus); s != "" {
		b.WriteString("Follow this syllabus:\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	b.WriteString("Write several lessons with substantial content; give a lesson a short quiz where it helps.\n")
	fmt.Fprintf(&b, "Write exactly %d final exam multiple-choice questions", p.MCQCount)
	fmt.Fprintf(&b, " and exactly %d essay prompts, each with a grading rubric.\n", p.EssayCount)
	fmt.Fprintf(&b, "Creativity: %.1f on a scale from 0 (strictly factual) to 1 (inventive examples).\n", p.Creativity)
	b.WriteString("Return JSON with this shape:\n")
	b.WriteString(shapeHint)
	return b.String()
}
