// Package domain defines the core business types for the awards mailing
// engine: communications, recipients, contacts, and delivery events.
//
// Types in this package are pure value objects with no database
// dependencies and no HTTP concerns. They are the shared language between
// handlers, services, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure transition functions (ApplyEvent, FinalStatus) belong here so
//     they can be tested without any store
//   - Constants and enums belong here
package domain
