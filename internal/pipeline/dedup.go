// Package pipeline sequences the personalization stages per job: transcript,
// voice and avatar provisioning, per-contact rendering and delivery, and the
// preview/confirm two-phase flow.
package pipeline

import "github.com/clipgreet/personalizer/internal/core"

// DeduplicateContacts drops later occurrences of the same normalized
// (name, phone) pair. First-seen order is preserved.
func DeduplicateContacts(contacts []core.Contact) []core.Contact {
	seen := make(map[string]struct{}, len(contacts))
	unique := make([]core.Contact, 0, len(contacts))

	for _, contact := range contacts {
		key := contact.Key()
		if _, duplicate := seen[key]; duplicate {
			continue
		}

		seen[key] = struct{}{}

		unique = append(unique, contact)
	}

	return unique
}
