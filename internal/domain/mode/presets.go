package mode

// Builtin mode identifiers.
const (
	Academic           = "academic"
	General            = "general"
	StudyHelp          = "study_help"
	DoubtClarification = "doubt_clarification"
)

// BuiltinModes returns all built-in mode presets.
func BuiltinModes() []Mode {
	return []Mode{
		{
			ID:          Academic,
			Name:        "Academic",
			Description: "Formal academic assistance grounded in course material and policy.",
			Builtin:     true,
			Directive: "You are an academic assistant for university students and staff. " +
				"Answer questions about courses, grading policies, deadlines, and academic " +
				"procedures precisely and formally. Cite the relevant policy or syllabus " +
				"section when one applies, and say so explicitly when you are unsure.",
		},
		{
			ID:          General,
			Name:        "General",
			Description: "Open-ended conversational assistance without academic framing.",
			Builtin:     true,
			Directive: "You are a helpful assistant for a university community. Answer " +
				"general questions conversationally and concisely. Redirect academic " +
				"policy questions to official sources when accuracy matters.",
		},
		{
			ID:          StudyHelp,
			Name:        "Study Help",
			Description: "Tutoring support that guides students toward understanding.",
			Builtin:     true,
			Directive: "You are a patient tutor. Help the student work through the material " +
				"step by step. Prefer guiding questions and worked examples over giving " +
				"final answers outright, and check understanding before moving on.",
		},
		{
			ID:          DoubtClarification,
			Name:        "Doubt Clarification",
			Description: "Short, targeted answers resolving a specific point of confusion.",
			Builtin:     true,
			Directive: "You are resolving a specific doubt a student has about course " +
				"material. Identify the exact misconception, address it directly in a " +
				"few sentences, and give one concrete example that makes it clear.",
		},
	}
}
