package config

// NOTE: Runtime subsystem internalized.
// This file intentionally left as a lightweight placeholder after removal of the
// experimental runtime & A/B testing API that previously lived here.
// No runtime or A/B testing API exists in this module.
//
// Do NOT add exported types or functions here without updating
// config_allowlist_guard_test.go.
//
// Having this stub prevents accidental recreation of the original large file
// during merges or manual experimentation.
