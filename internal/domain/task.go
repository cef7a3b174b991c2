package domain

// Task is an opaque structured value; the repository persists and restores
// it whole, without interpreting any of its fields.
type Task map[string]interface{}
