package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// Outline is a course with its lesson, module and chapter tree.
type Outline struct {
	Course  lms.Course   `json:"course"`
	Lessons []LessonNode `json:"lessons"`
	Exam    *lms.Exam    `json:"exam,omitempty"`
}

// LessonNode is a lesson and its modules.
type LessonNode struct {
	lms.Lesson
	Modules []ModuleNode `json:"modules"`
}

// ModuleNode is a module and its chapters.
type ModuleNode struct {
	lms.Module
	Chapters []lms.Chapter `json:"chapters"`
}

// Outline assembles the tree for courseID. References are not enforced by
// the store, so modules and chapters are grouped by scanning their whole
// collections and orphans are skipped.
func (c *Catalog) Outline(ctx context.Context, courseID string) (*Outline, error) {
	course, err := c.Courses.Get(ctx, courseID)
	if err != nil {
		return nil, err
	}

	lessons, err := c.Lessons.List(ctx, docstore.Eq("courseId", courseID))
	if err != nil {
		return nil, err
	}
	modules, err := c.Modules.List(ctx)
	if err != nil {
		return nil, err
	}
	chapters, err := c.Chapters.List(ctx)
	if err != nil {
		return nil, err
	}

	chaptersByModule := make(map[string][]lms.Chapter)
	for _, ch := range chapters {
		chaptersByModule[ch.ModuleID] = append(chaptersByModule[ch.ModuleID], ch)
	}
	modulesByLesson := make(map[string][]lms.Module)
	for _, m := range modules {
		modulesByLesson[m.LessonID] = append(modulesByLesson[m.LessonID], m)
	}

	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Order < lessons[j].Order })

	out := &Outline{Course: course, Lessons: make([]LessonNode, 0, len(lessons))}
	for _, l := range lessons {
		node := LessonNode{Lesson: l}
		mods := modulesByLesson[l.ID]
		sort.SliceStable(mods, func(i, j int) bool { return mods[i].Order < mods[j].Order })
		for _, m := range mods {
			chs := chaptersByModule[m.ID]
			sort.SliceStable(chs, func(i, j int) bool { return chs[i].Order < chs[j].Order })
			node.Modules = append(node.Modules, ModuleNode{Module: m, Chapters: chs})
		}
		out.Lessons = append(out.Lessons, node)
	}

	exams, err := c.Exams.List(ctx, docstore.Eq("courseId", courseID))
	if err != nil {
		return nil, fmt.Errorf("find exam: %w", err)
	}
	if len(exams) > 0 {
		ex := exams[0]
		ex.Essays = withoutRubrics(ex.Essays)
		out.Exam = &ex
	}
	return out, nil
}

// withoutRubrics copies essays with the grading rubric cleared. Rubrics are
// only read through the admin API and the grader.
func withoutRubrics(essays []lms.EssayPrompt) []lms.EssayPrompt {
	if len(essays) == 0 {
		return essays
	}
	out := make([]lms.EssayPrompt, len(essays))
	for i, e := range essays {
		out[i] = lms.EssayPrompt{Prompt: e.Prompt}
	}
	return out
}
