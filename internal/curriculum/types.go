package curriculum

import "github.com/p-n-ai/cab-academy/internal/lms"

// Topic is a predefined course topic an admin can generate from.
type Topic struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	Difficulty lms.Difficulty `yaml:"difficulty" json:"difficulty"`
	Competency string         `yaml:"competency" json:"competency"`
	Syllabus   string         `yaml:"syllabus" json:"syllabus"`
}

// File is the layout of one seed YAML file. Every section is optional.
type File struct {
	Topics        []Topic                     `yaml:"topics"`
	MasterCourses []lms.MasterCourse          `yaml:"masterCourses"`
	Roadmaps      []lms.Roadmap               `yaml:"roadmaps"`
	Achievements  []lms.AchievementDefinition `yaml:"achievements"`
}
