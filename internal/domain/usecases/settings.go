package usecases

import "github.com/loglux/RAG-Knowledge-Base-Platform-sub000/internal/domain/entities"

// ResolveQueryOptions is the single settings-resolution point for the
// retrieval/generation parameters: a conversation-level override, when
// present, replaces the app-level defaults wholesale. Keeping one function
// with one precedence rule avoids the two-write-path drift between global
// settings and per-conversation settings.
func ResolveQueryOptions(defaults entities.QueryOptions, override *entities.QueryOptions) entities.QueryOptions {
	if override != nil {
		return *override
	}
	return defaults
}
