// Package lms defines the record types stored in each collection and the
// validation applied to them at the write boundary.
package lms

import (
	"slices"
	"time"
)

// Collection names.
const (
	CollCourses      = "courses"
	CollLessons      = "lessons"
	CollModules      = "modules"
	CollChapters     = "chapters"
	CollQuizzes      = "quizzes"
	CollQuestions    = "questions"
	CollExams        = "exams"
	CollAttempts     = "attempts"
	CollUsers        = "users"
	CollIdentities   = "identities"
	CollMasters      = "masterCourses"
	CollRoadmaps     = "roadmaps"
	CollAchievements = "achievements" // definitions; user awards live under users/{id}/achievements
)

// Difficulty of a course or question.
type Difficulty string

const (
	Beginner     Difficulty = "Beginner"
	Intermediate Difficulty = "Intermediate"
	Expert       Difficulty = "Expert"
)

// Valid reports whether d is one of the known difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case Beginner, Intermediate, Expert:
		return true
	}
	return false
}

// Role is the claim carried by an identity and mirrored on its profile.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
	RoleExaminee   Role = "examinee"
)

var rolePriority = map[Role]int{
	RoleAdmin:      4,
	RoleInstructor: 3,
	RoleStudent:    2,
	RoleExaminee:   1,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePriority[r]
	return ok
}

// AtLeast reports whether r grants everything min does.
func (r Role) AtLeast(min Role) bool {
	return rolePriority[r] >= rolePriority[min] && r.Valid()
}

// Course is a published course.
type Course struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	Competency  string     `json:"competency"`
	Difficulty  Difficulty `json:"difficulty" validate:"required,oneof=Beginner Intermediate Expert"`
	CourseCode  string     `json:"courseCode" validate:"required,max=64"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Lesson belongs to one course by reference.
type Lesson struct {
	ID       string `json:"id" validate:"required"`
	CourseID string `json:"courseId" validate:"required"`
	Title    string `json:"title" validate:"required,max=200"`
	Content  string `json:"content"`
	QuizID   string `json:"quizId,omitempty"`
	Order    int    `json:"order" validate:"gte=0"`
}

// Module groups chapters under a lesson.
type Module struct {
	ID       string `json:"id" validate:"required"`
	LessonID string `json:"lessonId" validate:"required"`
	Title    string `json:"title" validate:"required,max=200"`
	Order    int    `json:"order" validate:"gte=0"`
}

// Chapter is the leaf content unit under a module.
type Chapter struct {
	ID       string `json:"id" validate:"required"`
	ModuleID string `json:"moduleId" validate:"required"`
	Title    string `json:"title" validate:"required,max=200"`
	Content  string `json:"content"`
	QuizID   string `json:"quizId,omitempty"`
	Order    int    `json:"order" validate:"gte=0"`
}

// Quiz is an ordered list of question ids.
type Quiz struct {
	ID          string   `json:"id" validate:"required"`
	QuestionIDs []string `json:"questionIds" validate:"required,min=1,dive,required"`
}

// Question is a multiple-choice item. CorrectAnswer is compared to the
// chosen option by exact string equality.
type Question struct {
	ID            string     `json:"id" validate:"required"`
	Stem          string     `json:"stem" validate:"required"`
	Options       []string   `json:"options" validate:"min=2,dive,required"`
	CorrectAnswer string     `json:"correctAnswer" validate:"required"`
	Difficulty    Difficulty `json:"difficulty" validate:"omitempty,oneof=Beginner Intermediate Expert"`
}

// AnswerInOptions reports whether CorrectAnswer is one of Options.
func (q Question) AnswerInOptions() bool {
	return slices.Contains(q.Options, q.CorrectAnswer)
}

// EssayPrompt is a free-text exam item graded separately against a rubric.
type EssayPrompt struct {
	Prompt string `json:"prompt" validate:"required"`
	Rubric string `json:"rubric"`
}

// Exam is the final assessment of a course. QuestionIDs order is authoritative.
type Exam struct {
	ID          string        `json:"id" validate:"required"`
	CourseID    string        `json:"courseId" validate:"required"`
	QuestionIDs []string      `json:"questionIds" validate:"dive,required"`
	Blueprint   string        `json:"blueprint"`
	Essays      []EssayPrompt `json:"essays,omitempty" validate:"dive"`
}

// Attempt is one scored exam submission.
type Attempt struct {
	ID        string            `json:"id" validate:"required"`
	UserID    string            `json:"userId" validate:"required"`
	ExamID    string            `json:"examId" validate:"required"`
	CourseID  string            `json:"courseId"`
	Score     int               `json:"score" validate:"gte=0,lte=100"`
	Pass      bool              `json:"pass"`
	Timestamp time.Time         `json:"timestamp"`
	Answers   map[string]string `json:"answers"`
}

// UserProfile is the application-side record of a user.
type UserProfile struct {
	UserID                string    `json:"userId" validate:"required"`
	Name                  string    `json:"name" validate:"required,max=120"`
	Email                 string    `json:"email" validate:"required,email"`
	Role                  Role      `json:"role" validate:"required,oneof=admin instructor student examinee"`
	CabTokens             int       `json:"cabTokens"`
	EnrolledCourseIDs     []string  `json:"enrolledCourseIds"`
	MandatoryLearningPath []string  `json:"mandatoryLearningPath"`
	AvatarURL             string    `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	CreatedAt             time.Time `json:"createdAt"`
}

// IsEnrolled reports whether the user is enrolled in courseID.
func (p UserProfile) IsEnrolled(courseID string) bool {
	return slices.Contains(p.EnrolledCourseIDs, courseID)
}

// Identity is the credential record behind a user. Its id is the user id.
type Identity struct {
	ID           string    `json:"id" validate:"required"`
	Email        string    `json:"email" validate:"required,email"`
	PasswordHash string    `json:"passwordHash" validate:"required"`
	Role         Role      `json:"role" validate:"required,oneof=admin instructor student examinee"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Competency identifies a qualification unit by TA and ISIC codes.
type Competency struct {
	TACode   string `json:"taCode" yaml:"taCode" validate:"required"`
	ISICCode string `json:"isicCode" yaml:"isicCode" validate:"required"`
}

// Pair returns the "TA/ISIC" form used on achievements.
func (c Competency) Pair() string {
	return c.TACode + "/" + c.ISICCode
}

// MasterCourse is a certification bundle of competency pairs.
type MasterCourse struct {
	ID                   string       `json:"id" yaml:"id" validate:"required"`
	Title                string       `json:"title" yaml:"title" validate:"required"`
	FacultyCode          string       `json:"facultyCode" yaml:"facultyCode"`
	Description          string       `json:"description" yaml:"description"`
	RequiredCompetencies []Competency `json:"requiredCompetencies" yaml:"requiredCompetencies" validate:"dive"`
}

// AchievementDefinition is awarded to every user who passes an exam of CourseID.
type AchievementDefinition struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	CourseID string `json:"courseId" yaml:"courseId" validate:"required"`
	Title    string `json:"title" yaml:"title"`
	Pair     string `json:"pair" yaml:"pair" validate:"required,contains=/"`
}

// UserAchievement is an awarded competency pair, stored under the user.
type UserAchievement struct {
	ID           string    `json:"id" validate:"required"`
	UserID       string    `json:"userId" validate:"required"`
	Pair         string    `json:"pair" validate:"required"`
	DefinitionID string    `json:"definitionId,omitempty"`
	CourseID     string    `json:"courseId,omitempty"`
	AwardedAt    time.Time `json:"awardedAt"`
}

// Roadmap is an ordered sequence of courses.
type Roadmap struct {
	ID    string   `json:"id" yaml:"id" validate:"required"`
	Title string   `json:"title" yaml:"title" validate:"required"`
	Steps []string `json:"steps" yaml:"steps" validate:"dive,required"`
}
