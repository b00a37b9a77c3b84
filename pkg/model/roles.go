// Package model routes chat completions to the right provider and model for
// an agent role, enforcing admission control, retries, and cost accounting.
package model

// Role identifies the agent requesting a completion.
type Role string

const (
	RolePlanning         Role = "planning"
	RoleResearch         Role = "research"
	RoleWriting          Role = "writing"
	RoleSimplifiedWriting Role = "simplified_writing"
	RoleReflection       Role = "reflection"
	RoleMessenger        Role = "messenger"
	RoleNoteAssignment   Role = "note_assignment"
	RoleQueryPreparation Role = "query_preparation"
	RoleQueryStrategy    Role = "query_strategy"
	RoleVerifier         Role = "verifier"
	RoleDefault          Role = "default"
)

// Class identifies a model capability tier.
type Class string

const (
	ClassFast        Class = "fast"
	ClassMid         Class = "mid"
	ClassIntelligent Class = "intelligent"
	ClassVerifier    Class = "verifier"
)

// roleClasses maps each agent role to its model class.
var roleClasses = map[Role]Class{
	RolePlanning:          ClassIntelligent,
	RoleResearch:          ClassMid,
	RoleWriting:           ClassIntelligent,
	RoleSimplifiedWriting: ClassMid,
	RoleReflection:        ClassIntelligent,
	RoleMessenger:         ClassFast,
	RoleNoteAssignment:    ClassMid,
	RoleQueryPreparation:  ClassFast,
	RoleQueryStrategy:     ClassFast,
	RoleVerifier:          ClassVerifier,
	RoleDefault:           ClassMid,
}

// ClassForRole returns the model class serving a role. Unknown roles map to
// the mid class.
func ClassForRole(role Role) Class {
	if class, ok := roleClasses[role]; ok {
		return class
	}
	return ClassMid
}
